package main

import (
	"context"
	"fmt"
	"log"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-authz/internal/app"
	"github.com/odyssey-erp/odyssey-authz/internal/rbac"
)

type seedUser struct {
	email string
	name  string
	role  string
	dept  string
}

var departments = []struct {
	code   string
	name   string
	parent string
}{
	{"HQ", "Headquarters", ""},
	{"FIN", "Finance", "HQ"},
	{"ENG", "Engineering", "HQ"},
}

var users = []seedUser{
	{"admin@odyssey.local", "Admin", "super-admin", ""},
	{"manager@odyssey.local", "Finance Manager", "manager", "FIN"},
	{"employee@odyssey.local", "Engineer", "employee", "ENG"},
}

func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := app.NewLogger(cfg)
	rt, err := app.Open(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("open runtime: %v", err)
	}
	defer rt.Close()

	fmt.Println("→ Applying schema...")
	if err := rt.Store.Migrate(ctx); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	fmt.Println("→ Seeding departments...")
	deptIDs, err := seedDepartments(ctx, rt.Pool)
	if err != nil {
		log.Fatalf("seed departments: %v", err)
	}

	fmt.Println("→ Seeding users...")
	userIDs, err := seedUsers(ctx, rt.Pool)
	if err != nil {
		log.Fatalf("seed users: %v", err)
	}

	fmt.Println("→ Seeding RBAC catalog...")
	authz := rt.Authorizer(nil)
	report, err := authz.Seed(ctx, rbac.DefaultCatalog())
	if err != nil {
		log.Fatalf("seed rbac: %v", err)
	}
	fmt.Printf("  %d permissions, %d roles, %d grants\n", report.PermissionsCreated, report.RolesCreated, report.GrantsApplied)

	fmt.Println("→ Assigning roles...")
	if err := assignRoles(ctx, authz, userIDs, deptIDs); err != nil {
		log.Fatalf("assign roles: %v", err)
	}
	fmt.Println("✓ Done")
}

func seedDepartments(ctx context.Context, pool *pgxpool.Pool) (map[string]int64, error) {
	ids := make(map[string]int64, len(departments))
	for _, d := range departments {
		var parent *int64
		if d.parent != "" {
			id := ids[d.parent]
			parent = &id
		}
		var id int64
		err := pool.QueryRow(ctx, `
			INSERT INTO departments (code, name, parent_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (code) DO UPDATE SET name = EXCLUDED.name
			RETURNING id`, d.code, d.name, parent).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("department %s: %w", d.code, err)
		}
		ids[d.code] = id
	}
	return ids, nil
}

func seedUsers(ctx context.Context, pool *pgxpool.Pool) (map[string]int64, error) {
	ids := make(map[string]int64, len(users))
	for _, u := range users {
		var id int64
		err := pool.QueryRow(ctx, `
			INSERT INTO users (email, name, is_active)
			VALUES ($1, $2, TRUE)
			ON CONFLICT (email) DO UPDATE SET name = EXCLUDED.name
			RETURNING id`, u.email, u.name).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("user %s: %w", u.email, err)
		}
		ids[u.email] = id
	}
	return ids, nil
}

func assignRoles(ctx context.Context, authz *rbac.Service, userIDs, deptIDs map[string]int64) error {
	for _, u := range users {
		role, err := authz.Roles.GetByCode(ctx, u.role)
		if err != nil {
			return fmt.Errorf("role %s: %w", u.role, err)
		}
		in := rbac.AssignInput{UserID: userIDs[u.email], RoleID: role.ID}
		if u.dept != "" {
			dept := deptIDs[u.dept]
			in.DepartmentID = &dept
		}
		if _, err := authz.Assignments.Assign(ctx, in); err != nil {
			return fmt.Errorf("assign %s to %s: %w", u.role, u.email, err)
		}
	}
	return nil
}
