package collab

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/deaddrop/internal/app"
)

// registerResources exposes the room's onboarding documents as MCP
// resources: the shared protocol text plus one resource per role file found
// under roles/. Rooms without a runtime directory simply expose nothing.
func registerResources(s *server.MCPServer, svc *app.Service, logger *log.Logger) {
	dir := svc.RuntimeDir()
	if dir == "" {
		return
	}

	protocolPath := filepath.Join(dir, "PROTOCOL.md")
	if _, err := os.Stat(protocolPath); err == nil {
		s.AddResource(
			mcp.NewResource(
				"dead-drop://protocol",
				"Room Protocol",
				mcp.WithResourceDescription("The collaboration protocol for this room. Read at session start."),
				mcp.WithMIMEType("text/markdown"),
			),
			func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
				data, err := os.ReadFile(protocolPath)
				if err != nil {
					return nil, fmt.Errorf("read protocol: %w", err)
				}
				return []mcp.ResourceContents{
					mcp.TextResourceContents{
						URI:      req.Params.URI,
						MIMEType: "text/markdown",
						Text:     string(data),
					},
				}, nil
			},
		)
	}

	entries, err := os.ReadDir(filepath.Join(dir, "roles"))
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		role := strings.TrimSuffix(entry.Name(), ".md")
		rolePath := filepath.Join(dir, "roles", entry.Name())
		s.AddResource(
			mcp.NewResource(
				"dead-drop://roles/"+role,
				fmt.Sprintf("Role guide: %s", role),
				mcp.WithResourceDescription(fmt.Sprintf("Onboarding notes for agents registered with role %q.", role)),
				mcp.WithMIMEType("text/markdown"),
			),
			func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
				data, err := os.ReadFile(rolePath)
				if err != nil {
					return nil, fmt.Errorf("read role guide: %w", err)
				}
				return []mcp.ResourceContents{
					mcp.TextResourceContents{
						URI:      req.Params.URI,
						MIMEType: "text/markdown",
						Text:     string(data),
					},
				}, nil
			},
		)
	}
	logger.Printf("Onboarding resources registered from %s", dir)
}
