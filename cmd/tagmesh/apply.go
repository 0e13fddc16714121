package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/tagmesh/tagmesh/pkg/storage"
	"github.com/tagmesh/tagmesh/pkg/types"
	"gopkg.in/yaml.v3"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Apply a configuration file",
	Long: `Apply tagmesh resources from a YAML file.

The file may contain multiple documents separated by ---, each declaring a
Switch, TagRule or FilterRule.

Examples:
  # Register a switch and its rules in one shot
  tagmesh apply -f topology.yaml`,
	RunE: runApply,
}

func init() {
	applyCmd.Flags().StringP("file", "f", "", "YAML file to apply (required)")
	_ = applyCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(applyCmd)
}

// Resource represents a generic tagmesh resource
type Resource struct {
	APIVersion string                 `yaml:"apiVersion"`
	Kind       string                 `yaml:"kind"`
	Metadata   ResourceMetadata       `yaml:"metadata"`
	Spec       map[string]interface{} `yaml:"spec"`
}

type ResourceMetadata struct {
	Name string `yaml:"name"`
}

func runApply(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	f, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %v", err)
	}
	defer f.Close()

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	dec := yaml.NewDecoder(f)
	applied := 0
	for {
		var resource Resource
		if err := dec.Decode(&resource); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return fmt.Errorf("failed to parse YAML: %v", err)
		}
		if resource.Kind == "" {
			continue
		}

		switch resource.Kind {
		case "Switch":
			err = applySwitch(store, &resource)
		case "TagRule":
			err = applyTagRule(store, &resource)
		case "FilterRule":
			err = applyFilterRule(store, &resource)
		default:
			err = fmt.Errorf("unsupported resource kind: %s", resource.Kind)
		}
		if err != nil {
			return err
		}
		applied++
	}

	fmt.Printf("✓ Applied %d resources\n", applied)
	return nil
}

func applySwitch(store *storage.BoltStore, resource *Resource) error {
	name := resource.Metadata.Name
	endpoint := getString(resource.Spec, "endpoint", "")
	deviceID := getInt(resource.Spec, "deviceId", 0)

	if name == "" || endpoint == "" {
		return fmt.Errorf("switch name and endpoint are required")
	}

	// Re-applying the same name overwrites, so manifests are idempotent.
	if err := store.CreateSwitch(&types.Switch{
		Name:     name,
		Endpoint: endpoint,
		DeviceID: uint64(deviceID),
	}); err != nil {
		return fmt.Errorf("failed to register switch %s: %v", name, err)
	}

	fmt.Printf("Switch registered: %s\n", name)
	return nil
}

func applyTagRule(store *storage.BoltStore, resource *Resource) error {
	switchName := getString(resource.Spec, "switch", "")
	tag := getInt(resource.Spec, "tag", 0)
	if switchName == "" {
		return fmt.Errorf("tag rule switch is required")
	}

	matchSpec, ok := resource.Spec["match"].(map[string]interface{})
	if !ok || len(matchSpec) == 0 {
		return fmt.Errorf("tag rule match is required")
	}

	match := make(types.MatchSpec, len(matchSpec))
	for field, raw := range matchSpec {
		switch v := raw.(type) {
		case string:
			spec, err := parseMatchFlags([]string{field + "=" + v})
			if err != nil {
				return err
			}
			match[field] = spec[field]
		case map[string]interface{}:
			match[field] = types.MatchField{
				Value:     getString(v, "value", ""),
				PrefixLen: getInt(v, "prefixLen", 0),
			}
		default:
			return fmt.Errorf("invalid match for field %s", field)
		}
	}

	rule := &types.TagRule{
		ID:         int64(getInt(resource.Spec, "id", 0)),
		SwitchName: switchName,
		Match:      match,
		TagValue:   tag,
	}
	if err := store.CreateTagRule(rule); err != nil {
		return fmt.Errorf("failed to create tag rule: %v", err)
	}

	fmt.Printf("Tag rule created: id=%d switch=%s tag=%d\n", rule.ID, switchName, tag)
	return nil
}

func applyFilterRule(store *storage.BoltStore, resource *Resource) error {
	switchName := getString(resource.Spec, "switch", "")
	tag := getInt(resource.Spec, "tag", 0)
	if switchName == "" {
		return fmt.Errorf("filter rule switch is required")
	}

	rule := &types.FilterRule{
		ID:         int64(getInt(resource.Spec, "id", 0)),
		SwitchName: switchName,
		TagValue:   tag,
	}
	if err := store.CreateFilterRule(rule); err != nil {
		return fmt.Errorf("failed to create filter rule: %v", err)
	}

	fmt.Printf("Filter rule created: id=%d switch=%s tag=%d\n", rule.ID, switchName, tag)
	return nil
}

// Helper functions
func getString(m map[string]interface{}, key, defaultValue string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return defaultValue
}

func getInt(m map[string]interface{}, key string, defaultValue int) int {
	if v, ok := m[key]; ok {
		switch val := v.(type) {
		case int:
			return val
		case float64:
			return int(val)
		}
	}
	return defaultValue
}
