package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"

	"github.com/orchidsec/accessctl"
	"github.com/orchidsec/accessctl/stores"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	switch cmd {
	case "convert":
		handleConvert()
	case "validate":
		handleValidate()
	case "stats":
		handleStats()
	case "apply":
		handleApply()
	default:
		fmt.Printf("Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("accessctl-config - Configuration tool for accessctl")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  accessctl-config convert <input> <output>  - Convert between formats")
	fmt.Println("  accessctl-config validate <file>           - Validate configuration")
	fmt.Println("  accessctl-config stats <file>              - Show configuration statistics")
	fmt.Println("  accessctl-config apply <file> [sqlite-db]  - Apply configuration to an engine")
	fmt.Println()
	fmt.Println("Supported formats: .yaml, .yml, .json")
}

func handleConvert() {
	if len(os.Args) < 4 {
		fmt.Println("Usage: accessctl-config convert <input> <output>")
		os.Exit(1)
	}

	inputFile := os.Args[2]
	outputFile := os.Args[3]

	cfg, err := loadConfig(inputFile)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := saveConfig(cfg, outputFile); err != nil {
		fmt.Printf("Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Converted %s -> %s\n", inputFile, outputFile)
}

func handleValidate() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: accessctl-config validate <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Printf("Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Version: %d\n", cfg.Version)
	fmt.Printf("  Permissions: %d\n", len(cfg.Permissions))
	fmt.Printf("  Roles: %d\n", len(cfg.Roles))
	fmt.Printf("  Resources: %d\n", len(cfg.Resources))
	fmt.Printf("  Assignments: %d\n", len(cfg.Assignments))
}

func handleStats() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: accessctl-config stats <file>")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	stat, _ := os.Stat(filename)

	fmt.Println("Configuration Statistics")
	fmt.Println("========================")
	if stat != nil {
		fmt.Printf("File size: %d bytes\n", stat.Size())
	}
	fmt.Printf("Version: %d\n", cfg.Version)
	fmt.Println()

	fmt.Println("Components:")
	fmt.Printf("  Permissions: %d\n", len(cfg.Permissions))
	fmt.Printf("  Roles:       %d\n", len(cfg.Roles))
	fmt.Printf("  Resources:   %d\n", len(cfg.Resources))
	fmt.Printf("  Assignments: %d\n", len(cfg.Assignments))
	fmt.Println()

	if len(cfg.Permissions) > 0 {
		allowCount := 0
		denyCount := 0
		conditioned := 0
		for _, p := range cfg.Permissions {
			if p.Effect == accessctl.EffectDeny {
				denyCount++
			} else {
				allowCount++
			}
			if len(p.Conditions) > 0 {
				conditioned++
			}
		}
		fmt.Println("Permission Details:")
		fmt.Printf("  Allow permissions: %d\n", allowCount)
		fmt.Printf("  Deny permissions:  %d\n", denyCount)
		fmt.Printf("  With conditions:   %d\n", conditioned)
		fmt.Println()
	}

	if len(cfg.Roles) > 0 {
		totalPerms := 0
		inherited := 0
		for _, r := range cfg.Roles {
			totalPerms += len(r.Permissions)
			if len(r.ParentRoles) > 0 {
				inherited++
			}
		}
		fmt.Println("Role Details:")
		fmt.Printf("  Total permission grants: %d\n", totalPerms)
		fmt.Printf("  Avg per role:            %.1f\n", float64(totalPerms)/float64(len(cfg.Roles)))
		fmt.Printf("  Roles with parents:      %d\n", inherited)
		fmt.Println()
	}

	fmt.Println("Engine Configuration:")
	fmt.Printf("  Batch worker count:      %d\n", cfg.Engine.BatchWorkerCount)
	fmt.Printf("  Role cache num counters: %d\n", cfg.Engine.RoleCacheNumCounters)
	fmt.Printf("  Role cache max cost:     %d\n", cfg.Engine.RoleCacheMaxCost)
}

func handleApply() {
	if len(os.Args) < 3 {
		fmt.Println("Usage: accessctl-config apply <file> [sqlite-db]")
		os.Exit(1)
	}

	filename := os.Args[2]
	cfg, err := loadConfig(filename)
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	engine, err := buildEngine(cfg)
	if err != nil {
		fmt.Printf("Error building engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx := context.Background()
	if err := engine.ApplyConfig(ctx, cfg); err != nil {
		fmt.Printf("Error applying config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Configuration applied successfully\n")
	fmt.Printf("  Permissions loaded: %d\n", len(cfg.Permissions))
	fmt.Printf("  Roles loaded: %d\n", len(cfg.Roles))
	fmt.Printf("  Assignments loaded: %d\n", len(cfg.Assignments))
}

// buildEngine wires memory stores by default; with a sqlite path argument the
// registries go through the SQL stores instead.
func buildEngine(cfg *accessctl.Config) (*accessctl.Engine, error) {
	if len(os.Args) > 3 {
		sqlDB, err := sql.Open("sqlite", os.Args[3])
		if err != nil {
			return nil, err
		}
		db := squealx.NewDb(sqlDB, "sqlite", "accessctl")
		if err := stores.Migrate(db); err != nil {
			return nil, err
		}
		return accessctl.NewEngine(
			stores.NewSQLPermissionStore(db),
			stores.NewSQLRoleStore(db),
			stores.NewSQLResourceStore(db),
			stores.NewSQLAssignmentStore(db),
			cfg.Engine.Options()...,
		)
	}
	return accessctl.NewEngine(
		stores.NewMemoryPermissionStore(),
		stores.NewMemoryRoleStore(),
		stores.NewMemoryResourceStore(),
		stores.NewMemoryAssignmentStore(),
		cfg.Engine.Options()...,
	)
}

func loadConfig(filename string) (*accessctl.Config, error) {
	loader := accessctl.NewConfigLoader()
	ext := strings.ToLower(filepath.Ext(filename))
	switch ext {
	case ".yaml", ".yml", ".json":
		return loader.LoadFile(filename)
	}
	return nil, fmt.Errorf("unsupported file format: %s", ext)
}

func saveConfig(cfg *accessctl.Config, filename string) error {
	ext := strings.ToLower(filepath.Ext(filename))

	var data []byte
	var err error

	switch ext {
	case ".yaml", ".yml":
		data, err = cfg.ToYAML()
	case ".json":
		data, err = cfg.ToJSON()
	default:
		return fmt.Errorf("unsupported file format: %s", ext)
	}

	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
