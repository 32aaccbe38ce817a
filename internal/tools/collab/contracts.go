package collab

import (
	"context"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/deaddrop/internal/app"
	"github.com/jaakkos/deaddrop/internal/domain"
)

// registerDeclareContract registers the declare_contract tool.
func registerDeclareContract(s *server.MCPServer, svc *app.Service, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("declare_contract",
			mcp.WithDescription("Declare or update a shared interface contract (function signature, DOM id, file path, ...). Updating bumps the version and notifies every other agent."),
			mcp.WithString("agent", mcp.Required(), mcp.Description("Your agent name (becomes the owner)")),
			mcp.WithString("name", mcp.Required(), mcp.Description("Contract name (e.g. 'paint')")),
			mcp.WithString("kind", mcp.Required(), mcp.Description("One of: function, dom_id, css_class, file_path, api_endpoint, event, other")),
			mcp.WithString("spec", mcp.Required(), mcp.Description("The contract text itself")),
			mcp.WithString("project", mcp.Description("Project tag")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			agent, err := requireString(args, "agent")
			if err != nil {
				return toolError(logger, "declare_contract", err)
			}
			name, err := requireString(args, "name")
			if err != nil {
				return toolError(logger, "declare_contract", err)
			}
			kind, err := requireString(args, "kind")
			if err != nil {
				return toolError(logger, "declare_contract", err)
			}
			spec, err := requireString(args, "spec")
			if err != nil {
				return toolError(logger, "declare_contract", err)
			}
			res, err := svc.Contracts.Declare(agent, name, kind, spec, optionalString(args, "project"))
			if err != nil {
				return toolError(logger, "declare_contract", err)
			}
			c := res.Contract
			if res.Updated {
				logger.Printf("Contract %s '%s' bumped to v%d by %s", c.Kind, c.Name, c.Version, agent)
				return mcp.NewToolResultText(fmt.Sprintf(
					"Contract '%s' (%s) updated to v%d; %d agent(s) notified.",
					c.Name, c.Kind, c.Version, len(res.Recipients))), nil
			}
			logger.Printf("Contract %s '%s' declared by %s", c.Kind, c.Name, agent)
			return mcp.NewToolResultText(fmt.Sprintf(
				"Contract '%s' (%s) declared at v1.", c.Name, c.Kind)), nil
		},
	)
}

// registerListContracts registers the list_contracts tool.
func registerListContracts(s *server.MCPServer, svc *app.Service, logger *log.Logger) {
	s.AddTool(
		mcp.NewTool("list_contracts",
			mcp.WithDescription("List declared interface contracts, sorted by kind then name."),
			mcp.WithString("project", mcp.Description("Filter by project tag")),
			mcp.WithString("owner", mcp.Description("Filter by owner")),
			mcp.WithString("kind", mcp.Description("Filter by kind")),
		),
		func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			args := req.GetArguments()
			contracts, err := svc.Contracts.List(
				optionalString(args, "project"),
				optionalString(args, "owner"),
				optionalString(args, "kind"))
			if err != nil {
				return toolError(logger, "list_contracts", err)
			}
			if contracts == nil {
				contracts = []domain.Contract{}
			}
			return jsonResult(contracts)
		},
	)
}
