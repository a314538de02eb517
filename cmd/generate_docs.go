package cmd

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/teemow/ipdocket/internal/automation"
	"github.com/teemow/ipdocket/internal/server"
	"github.com/teemow/ipdocket/internal/store"
)

func newGenerateDocsCmd() *cobra.Command {
	var outputFile string

	cmd := &cobra.Command{
		Use:   "generate-docs",
		Short: "Generate MCP tool documentation",
		Long: `Registers every MCP tool against in-memory backends and writes
their names, descriptions and arguments as markdown.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerateDocs(outputFile)
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")

	return cmd
}

// docsAuthorizer stands in for Google credentials so the Google tools are
// registered during doc generation.
type docsAuthorizer struct{}

func (docsAuthorizer) AuthURL(string) string { return "" }

func (docsAuthorizer) ExchangeAndSave(context.Context, string, string) error { return nil }

func runGenerateDocs(outputFile string) error {
	ctx := context.Background()
	memStore := store.NewMemoryStore()
	orch := automation.NewIntegratedOrchestrator(&automation.Integrations{Store: memStore}, nil, nil)
	serverContext, err := server.NewServerContext(ctx, server.Config{
		Store:      memStore,
		Runner:     automation.NewRunner(memStore, orch, memStore, nil),
		GoogleAuth: docsAuthorizer{},
	})
	if err != nil {
		return fmt.Errorf("failed to create server context: %w", err)
	}
	defer func() {
		_ = serverContext.Shutdown()
	}()

	mcpSrv := mcpserver.NewMCPServer("ipdocket", version,
		mcpserver.WithToolCapabilities(true),
	)
	if err := registerAllTools(mcpSrv, serverContext, false); err != nil {
		return err
	}

	tools := make([]mcp.Tool, 0)
	for _, st := range mcpSrv.ListTools() {
		tools = append(tools, st.Tool)
	}
	markdown := generateToolsMarkdown(tools)

	if outputFile == "" {
		fmt.Print(markdown)
		return nil
	}
	if err := os.WriteFile(outputFile, []byte(markdown), 0o644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Documentation written to: %s\n", outputFile)
	return nil
}

// toolCategories maps a tool name prefix to its section title, in the order
// the sections appear.
var toolCategories = []struct {
	prefix string
	title  string
}{
	{prefix: "automation_", title: "Automation Tools"},
	{prefix: "google_", title: "Google Account Tools"},
}

const otherCategory = "Other"

func toolCategory(name string) string {
	for _, c := range toolCategories {
		if strings.HasPrefix(name, c.prefix) {
			return c.title
		}
	}
	return otherCategory
}

func generateToolsMarkdown(tools []mcp.Tool) string {
	byCategory := make(map[string][]mcp.Tool)
	for _, tool := range tools {
		category := toolCategory(tool.Name)
		byCategory[category] = append(byCategory[category], tool)
	}

	var sections []string
	for _, c := range toolCategories {
		if len(byCategory[c.title]) > 0 {
			sections = append(sections, c.title)
		}
	}
	if len(byCategory[otherCategory]) > 0 {
		sections = append(sections, otherCategory)
	}

	var sb strings.Builder
	sb.WriteString("# MCP Tools Reference\n\n")
	sb.WriteString("Tools exposed by `ipdocket serve`. Generated by `ipdocket generate-docs`, do not edit by hand.\n\n")

	sb.WriteString("## Table of Contents\n\n")
	for _, title := range sections {
		fmt.Fprintf(&sb, "- [%s](#%s)\n", title, strings.ToLower(strings.ReplaceAll(title, " ", "-")))
	}
	sb.WriteString("\n")

	sb.WriteString("## Read-Only Mode\n\n")
	sb.WriteString("Unless the server runs with `--yolo`, only tools that read batches and rule statistics are registered. ")
	sb.WriteString("`automation_execute_batch`, `automation_toggle_action` and `automation_issue_approval_token` need write mode.\n\n")

	for _, title := range sections {
		section := byCategory[title]
		sort.Slice(section, func(i, j int) bool { return section[i].Name < section[j].Name })

		fmt.Fprintf(&sb, "## %s\n\n", title)
		for _, tool := range section {
			writeToolMarkdown(&sb, tool)
		}
	}
	return sb.String()
}

func writeToolMarkdown(sb *strings.Builder, tool mcp.Tool) {
	fmt.Fprintf(sb, "### %s\n\n", tool.Name)
	if tool.Description != "" {
		fmt.Fprintf(sb, "%s\n\n", tool.Description)
	}

	props := tool.InputSchema.Properties
	if len(props) == 0 {
		sb.WriteString("No arguments.\n\n")
		return
	}

	names := make([]string, 0, len(props))
	for name := range props {
		names = append(names, name)
	}
	sort.Strings(names)

	sb.WriteString("**Arguments:**\n")
	for _, name := range names {
		prop, ok := props[name].(map[string]any)
		if !ok {
			continue
		}
		typ, _ := prop["type"].(string)
		if typ == "" {
			typ = "any"
		}
		presence := "optional"
		if slices.Contains(tool.InputSchema.Required, name) {
			presence = "required"
		}
		desc, _ := prop["description"].(string)
		if desc == "" {
			desc = typ + " parameter"
		}
		fmt.Fprintf(sb, "- `%s` (%s, %s): %s\n", name, typ, presence, desc)
	}
	sb.WriteString("\n")
}
