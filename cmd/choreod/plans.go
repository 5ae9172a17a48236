package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/edgefleet/choreo/internal/admin"
	"github.com/edgefleet/choreo/pkg/schema"
)

// loadPlanDefinitions reads every *.yaml / *.yml file in dir as a plan
// definition. A missing directory is not an error; a malformed file is.
func loadPlanDefinitions(dir string) ([]*schema.PlanDefinition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read plans dir %q: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	defs := make([]*schema.PlanDefinition, 0, len(names))
	for _, name := range names {
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read plan file %q: %w", path, err)
		}
		var def schema.PlanDefinition
		if err := yaml.Unmarshal(data, &def); err != nil {
			return nil, fmt.Errorf("parse plan file %q: %w", path, err)
		}
		defs = append(defs, &def)
	}
	return defs, nil
}

// syncPlans creates any plan definition not yet present in the store. Existing
// plans are left untouched: definitions are immutable once sessions may
// reference them, so edits require a new plan name.
func syncPlans(ctx context.Context, svc *admin.Service, dir string, logger *slog.Logger) error {
	defs, err := loadPlanDefinitions(dir)
	if err != nil {
		return err
	}

	created := 0
	for _, def := range defs {
		if _, err := svc.CreatePlan(ctx, def); err != nil {
			if schema.IsCode(err, schema.ErrCodeConflict) {
				continue // already present
			}
			return fmt.Errorf("create plan %q: %w", def.Name, err)
		}
		created++
	}

	if len(defs) > 0 {
		logger.Info("plan definitions synced",
			slog.Int("files", len(defs)),
			slog.Int("created", created),
		)
	}
	return nil
}
