package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/tagmesh/tagmesh/pkg/types"
)

// Rule commands
var ruleCmd = &cobra.Command{
	Use:   "rule",
	Short: "Manage tag and filter rules",
}

var tagRuleCmd = &cobra.Command{
	Use:   "tag",
	Short: "Manage tag rules (classify flows and mark their DSCP field)",
}

var tagRuleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a tag rule",
	Long: `Add a tag rule.

Match criteria take the form field=value or field=value/prefixLen; repeat
--match for multi-field rules. A missing prefix length means an exact match
over the field's full width.

Examples:
  tagmesh rule tag add --switch s21 --match srcAddr=192.168.11.0/24 --tag 10
  tagmesh rule tag add --switch s21 --match srcAddr=192.168.13.0/24 --match protocol=17 --tag 12`,
	RunE: func(cmd *cobra.Command, args []string) error {
		switchName, _ := cmd.Flags().GetString("switch")
		matches, _ := cmd.Flags().GetStringArray("match")
		tag, _ := cmd.Flags().GetInt("tag")

		spec, err := parseMatchFlags(matches)
		if err != nil {
			return err
		}
		if len(spec) == 0 {
			return fmt.Errorf("at least one --match is required")
		}

		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		rule := &types.TagRule{SwitchName: switchName, Match: spec, TagValue: tag}
		if err := store.CreateTagRule(rule); err != nil {
			return fmt.Errorf("failed to create tag rule: %v", err)
		}

		fmt.Printf("✓ Tag rule created: id=%d switch=%s tag=%d\n", rule.ID, switchName, tag)
		return nil
	},
}

var tagRuleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tag rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		rules, err := store.ListTagRules()
		if err != nil {
			return fmt.Errorf("failed to list tag rules: %v", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSWITCH\tMATCH\tTAG")
		for _, r := range rules {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", r.ID, r.SwitchName, formatMatch(r.Match), r.TagValue)
		}
		return w.Flush()
	},
}

var tagRuleRemoveCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Remove a tag rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid rule id %q", args[0])
		}

		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.DeleteTagRule(id); err != nil {
			return fmt.Errorf("failed to remove tag rule: %v", err)
		}

		fmt.Printf("✓ Tag rule removed: %d\n", id)
		return nil
	},
}

var filterRuleCmd = &cobra.Command{
	Use:   "filter",
	Short: "Manage filter rules (drop packets carrying a tag)",
}

var filterRuleAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a filter rule",
	RunE: func(cmd *cobra.Command, args []string) error {
		switchName, _ := cmd.Flags().GetString("switch")
		tag, _ := cmd.Flags().GetInt("tag")

		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		rule := &types.FilterRule{SwitchName: switchName, TagValue: tag}
		if err := store.CreateFilterRule(rule); err != nil {
			return fmt.Errorf("failed to create filter rule: %v", err)
		}

		fmt.Printf("✓ Filter rule created: id=%d switch=%s tag=%d\n", rule.ID, switchName, tag)
		return nil
	},
}

var filterRuleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List filter rules",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		rules, err := store.ListFilterRules()
		if err != nil {
			return fmt.Errorf("failed to list filter rules: %v", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSWITCH\tTAG")
		for _, r := range rules {
			fmt.Fprintf(w, "%d\t%s\t%d\n", r.ID, r.SwitchName, r.TagValue)
		}
		return w.Flush()
	},
}

var filterRuleRemoveCmd = &cobra.Command{
	Use:   "remove ID",
	Short: "Remove a filter rule",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid rule id %q", args[0])
		}

		store, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.DeleteFilterRule(id); err != nil {
			return fmt.Errorf("failed to remove filter rule: %v", err)
		}

		fmt.Printf("✓ Filter rule removed: %d\n", id)
		return nil
	},
}

func init() {
	tagRuleCmd.AddCommand(tagRuleAddCmd)
	tagRuleCmd.AddCommand(tagRuleListCmd)
	tagRuleCmd.AddCommand(tagRuleRemoveCmd)

	tagRuleAddCmd.Flags().String("switch", "", "Switch the rule applies to")
	tagRuleAddCmd.Flags().StringArray("match", nil, "Match criterion field=value[/prefixLen] (repeatable)")
	tagRuleAddCmd.Flags().Int("tag", 0, "DSCP tag value to set")
	_ = tagRuleAddCmd.MarkFlagRequired("switch")
	_ = tagRuleAddCmd.MarkFlagRequired("tag")

	filterRuleCmd.AddCommand(filterRuleAddCmd)
	filterRuleCmd.AddCommand(filterRuleListCmd)
	filterRuleCmd.AddCommand(filterRuleRemoveCmd)

	filterRuleAddCmd.Flags().String("switch", "", "Switch the rule applies to")
	filterRuleAddCmd.Flags().Int("tag", 0, "DSCP tag value to drop")
	_ = filterRuleAddCmd.MarkFlagRequired("switch")
	_ = filterRuleAddCmd.MarkFlagRequired("tag")

	ruleCmd.AddCommand(tagRuleCmd)
	ruleCmd.AddCommand(filterRuleCmd)
	rootCmd.AddCommand(ruleCmd)
}

// parseMatchFlags turns repeated field=value[/prefixLen] flags into a spec
func parseMatchFlags(matches []string) (types.MatchSpec, error) {
	spec := make(types.MatchSpec, len(matches))
	for _, m := range matches {
		field, rest, ok := strings.Cut(m, "=")
		if !ok || field == "" || rest == "" {
			return nil, fmt.Errorf("invalid match %q, expected field=value[/prefixLen]", m)
		}
		value, plenStr, hasPlen := strings.Cut(rest, "/")
		var plen int
		if hasPlen {
			var err error
			plen, err = strconv.Atoi(plenStr)
			if err != nil || plen < 0 {
				return nil, fmt.Errorf("invalid prefix length in match %q", m)
			}
		}
		if _, dup := spec[field]; dup {
			return nil, fmt.Errorf("duplicate match field %q", field)
		}
		spec[field] = types.MatchField{Value: value, PrefixLen: plen}
	}
	return spec, nil
}

func formatMatch(spec types.MatchSpec) string {
	fields := make([]string, 0, len(spec))
	for f := range spec {
		fields = append(fields, f)
	}
	sort.Strings(fields)

	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		m := spec[f]
		if m.PrefixLen > 0 {
			parts = append(parts, fmt.Sprintf("%s=%s/%d", f, m.Value, m.PrefixLen))
		} else {
			parts = append(parts, fmt.Sprintf("%s=%s", f, m.Value))
		}
	}
	return strings.Join(parts, ",")
}
