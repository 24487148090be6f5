package main

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/jmylchreest/apexlens/internal/logging"
	"github.com/jmylchreest/apexlens/internal/version"
	"github.com/jmylchreest/apexlens/pkg/scan"
	"github.com/jmylchreest/apexlens/pkg/store"
)

// mcpServer exposes scanning, rule documentation, SOQL helpers and the
// findings store as MCP tools.
type mcpServer struct {
	root           string
	scanner        *scan.Scanner
	store          *store.Store // nil when the store could not be opened
	maxQueryLength int

	server  *mcp.Server
	started time.Time

	sessionMu sync.Mutex
	session   *watchSession

	toolCounts sync.Map // map[string]*atomic.Int64
}

func newMCPServer(root string, scanner *scan.Scanner, st *store.Store, maxQueryLength int) *mcpServer {
	s := &mcpServer{
		root:           root,
		scanner:        scanner,
		store:          st,
		maxQueryLength: maxQueryLength,
		started:        time.Now(),
	}
	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    "apexlens",
		Version: version.Short(),
	}, nil)
	s.server.AddReceivingMiddleware(s.toolCountMiddleware())
	s.registerScanTools()
	s.registerSoqlTools()
	s.registerFindingsTools()
	s.registerStatusTool()
	return s
}

func (s *mcpServer) setSession(ws *watchSession) {
	s.sessionMu.Lock()
	s.session = ws
	s.sessionMu.Unlock()
}

func (s *mcpServer) getSession() *watchSession {
	s.sessionMu.Lock()
	defer s.sessionMu.Unlock()
	return s.session
}

func (s *mcpServer) incrementToolCount(name string) {
	v, _ := s.toolCounts.LoadOrStore(name, &atomic.Int64{})
	v.(*atomic.Int64).Add(1)
}

func (s *mcpServer) getToolCounts() map[string]int64 {
	counts := make(map[string]int64)
	s.toolCounts.Range(func(key, value any) bool {
		counts[key.(string)] = value.(*atomic.Int64).Load()
		return true
	})
	return counts
}

func (s *mcpServer) toolCountMiddleware() mcp.Middleware {
	return func(next mcp.MethodHandler) mcp.MethodHandler {
		return func(ctx context.Context, method string, req mcp.Request) (mcp.Result, error) {
			if method == "tools/call" {
				if params, ok := req.GetParams().(*mcp.CallToolParamsRaw); ok {
					s.incrementToolCount(params.Name)
				}
			}
			return next(ctx, method, req)
		}
	}
}

// Run serves over stdio until the client disconnects or ctx ends.
func (s *mcpServer) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

func newMCPCmd(g *globalFlags) *cobra.Command {
	var (
		watch   bool
		noStore bool
	)
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Serve apexlens tools over MCP on stdio",
		Long: `Serve apexlens tools to an MCP client over stdio.

stdout carries JSON-RPC; logs go to stderr. With --watch the project is
scanned once and then rescanned on change, keeping the findings store
current for the findings_* tools.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(g)
			if err != nil {
				return err
			}
			log := logging.Named("mcp")
			start := time.Now()
			log.Infow("MCP server starting", "version", version.String(), "root", a.cfg.Root)

			ctx := cmd.Context()
			scanner, err := a.scanner(ctx)
			if err != nil {
				return err
			}

			var st *store.Store
			if !noStore {
				if st, err = a.openStore(); err != nil {
					log.Warnw("findings tools disabled", "error", err)
					st = nil
				} else {
					defer st.Close()
				}
			}

			srv := newMCPServer(a.cfg.Root, scanner, st, a.cfg.Report.MaxQueryLength)
			if watch && st != nil {
				session, err := startWatch(a, scanner, st, nil, 0, true)
				if err != nil {
					log.Warnw("watcher disabled", "error", err)
				} else {
					srv.setSession(session)
					defer session.stop()
				}
			}

			log.Infow("MCP server ready, listening on stdio", "startup", time.Since(start).Round(time.Millisecond))
			return srv.Run(ctx)
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "rescan changed files into the findings store")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "run without the findings store")
	return cmd
}
