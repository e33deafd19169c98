package main

import (
	"fmt"

	"github.com/Marksio90/narraforge/internal/models"
	"github.com/spf13/cobra"
)

var loreCmd = &cobra.Command{
	Use:   "lore",
	Short: "Query the memory stores",
}

var (
	loreScope    string
	loreKind     string
	loreEntityID string
	loreLimit    int
)

var loreEntitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "List structural entities in a scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(apiAddr)
		var entities []models.StructuralEntity
		if err := client.get("/lore/entities?scope="+loreScope, &entities); err != nil {
			return err
		}
		if len(entities) == 0 {
			fmt.Println("No entities")
			return nil
		}
		for _, e := range entities {
			fmt.Printf("%s  %-6s %s", e.ID, e.Kind, e.Name)
			if e.Genre != "" {
				fmt.Printf("  [%s]", e.Genre)
			}
			fmt.Println()
		}
		return nil
	},
}

var loreNodesCmd = &cobra.Command{
	Use:   "nodes",
	Short: "List semantic nodes in a scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(apiAddr)
		path := "/lore/nodes?scope=" + loreScope
		if loreKind != "" {
			path += "&kind=" + loreKind
		}
		var nodes []models.SemanticNode
		if err := client.get(path, &nodes); err != nil {
			return err
		}
		if len(nodes) == 0 {
			fmt.Println("No nodes")
			return nil
		}
		for _, n := range nodes {
			ord := ""
			if n.Ordinal >= 0 {
				ord = fmt.Sprintf(" #%d", n.Ordinal)
			}
			fmt.Printf("%s  %-12s sig=%.2f%s  %s\n", n.ID, n.Kind, n.Significance, ord, n.Content)
		}
		return nil
	},
}

var loreHistoryCmd = &cobra.Command{
	Use:   "history <entity-id>",
	Short: "Show an entity's change ledger, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(apiAddr)
		path := fmt.Sprintf("/lore/history/%s?limit=%d", args[0], loreLimit)
		var recs []models.ChangeRecord
		if err := client.get(path, &recs); err != nil {
			return err
		}
		if len(recs) == 0 {
			fmt.Println("No history")
			return nil
		}
		for _, r := range recs {
			fmt.Printf("%s  %-10s %-16s sig=%.2f", r.Timestamp.Format("2006-01-02 15:04:05"), r.EntityKind, r.ChangeKind, r.Significance)
			if r.Trigger != "" {
				fmt.Printf("  via %s", r.Trigger)
			}
			fmt.Println()
		}
		return nil
	},
}

var lorePatternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Aggregate change patterns for a scope",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := newAPIClient(apiAddr)
		path := "/lore/patterns?scope=" + loreScope
		if loreEntityID != "" {
			path += "&entity=" + loreEntityID
		}
		var summary models.PatternSummary
		if err := client.get(path, &summary); err != nil {
			return err
		}
		fmt.Printf("Total changes: %d\n", summary.Total)
		for kind, n := range summary.CountsByKind {
			fmt.Printf("  %-20s %d\n", kind, n)
		}
		if summary.Total > 0 {
			fmt.Printf("Span: %.0fs\n", summary.TimeSpanSec)
		}
		return nil
	},
}

func init() {
	loreCmd.PersistentFlags().StringVar(&loreScope, "scope", "", "Structural scope id")
	loreNodesCmd.Flags().StringVar(&loreKind, "kind", "", "Filter by node kind")
	loreHistoryCmd.Flags().IntVar(&loreLimit, "limit", 20, "Maximum records")
	lorePatternsCmd.Flags().StringVar(&loreEntityID, "entity", "", "Narrow to one entity")

	loreCmd.AddCommand(loreEntitiesCmd)
	loreCmd.AddCommand(loreNodesCmd)
	loreCmd.AddCommand(loreHistoryCmd)
	loreCmd.AddCommand(lorePatternsCmd)
}
