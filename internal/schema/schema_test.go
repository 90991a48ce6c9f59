package schema

import (
	"testing"

	"github.com/spf13/cobra"
)

func testTree() *cobra.Command {
	root := &cobra.Command{Use: "bsctrade"}
	root.PersistentFlags().Bool("json", false, "json output")
	orders := &cobra.Command{Use: "orders", Short: "limit orders"}
	create := &cobra.Command{
		Use:         "create",
		Short:       "create an order",
		Annotations: map[string]string{AnnotationBroadcasts: "false"},
		RunE:        func(*cobra.Command, []string) error { return nil },
	}
	create.Flags().String("type", "", "order type")
	create.Flags().String("trigger-price", "", "trigger")
	_ = create.MarkFlagRequired("type")
	orders.AddCommand(create)
	buy := &cobra.Command{
		Use:         "buy",
		Annotations: map[string]string{AnnotationBroadcasts: "true"},
		RunE:        func(*cobra.Command, []string) error { return nil },
	}
	root.AddCommand(orders, buy)
	return root
}

func TestBuildDescribesLeafFlags(t *testing.T) {
	s, err := Build(testTree(), "orders create")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if s.Path != "bsctrade orders create" || !s.Runnable || s.Broadcasts {
		t.Fatalf("unexpected schema: %+v", s)
	}
	if len(s.Flags) != 2 || s.Flags[0].Name != "trigger-price" || s.Flags[1].Name != "type" {
		t.Fatalf("expected sorted local flags only, got %+v", s.Flags)
	}
	if s.Flags[0].Required || !s.Flags[1].Required {
		t.Fatalf("unexpected required markers: %+v", s.Flags)
	}
}

func TestBuildMarksBroadcastingCommands(t *testing.T) {
	s, err := Build(testTree(), "")
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	var buy *CommandSchema
	for i := range s.Subcommands {
		if s.Subcommands[i].Use == "buy" {
			buy = &s.Subcommands[i]
		}
	}
	if buy == nil || !buy.Broadcasts {
		t.Fatalf("expected buy to be marked as broadcasting: %+v", s.Subcommands)
	}
	if _, err := Build(testTree(), "orders missing"); err == nil {
		t.Fatal("expected unknown command error")
	}
}
