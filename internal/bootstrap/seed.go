package bootstrap

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/haasonsaas/breadcrumb/pkg/models"
)

// seedFile is the on-disk shape of one seed item: an idempotency key and
// the breadcrumb creation request it maps to.
type seedFile struct {
	IdempotencyKey string                         `json:"idempotency_key"`
	Request        models.CreateBreadcrumbRequest `json:"request"`
}

// stageDirs gives the on-disk subdirectory name for each Plan stage, in
// the same dependency order runStage processes them.
var stageDirs = []string{"schemas", "tools", "agents", "workflows", "context_configs", "demo"}

// LoadPlanFromDir builds a Plan by reading every *.json seed file from
// dir's stage subdirectories (schemas/, tools/, agents/, workflows/,
// context_configs/, demo/). A missing subdirectory yields an empty stage
// rather than an error, so deployments can seed only what they need.
func LoadPlanFromDir(dir string) (Plan, error) {
	stages := make([][]Item, len(stageDirs))
	for i, name := range stageDirs {
		items, err := loadStageDir(filepath.Join(dir, name))
		if err != nil {
			return Plan{}, fmt.Errorf("bootstrap: load stage %q: %w", name, err)
		}
		stages[i] = items
	}
	return Plan{
		Schemas:        stages[0],
		Tools:          stages[1],
		Agents:         stages[2],
		Workflows:      stages[3],
		ContextConfigs: stages[4],
		Demo:           stages[5],
	}, nil
}

func loadStageDir(dir string) ([]Item, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && filepath.Ext(e.Name()) == ".json" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names) // deterministic seeding order within a stage

	items := make([]Item, 0, len(names))
	for _, name := range names {
		raw, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		var sf seedFile
		if err := json.Unmarshal(raw, &sf); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		if sf.Request.Tags == nil {
			sf.Request.Tags = []string{}
		}
		sf.Request.Tags = append(sf.Request.Tags, "idem:"+sf.IdempotencyKey)
		items = append(items, Item{IdempotencyKey: sf.IdempotencyKey, Request: sf.Request})
	}
	return items, nil
}
