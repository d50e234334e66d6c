package cmd

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/immateria/codex-mod-sub007/pkg/appserver"
	"github.com/immateria/codex-mod-sub007/pkg/engine/dispatch/agentrun"
	"github.com/immateria/codex-mod-sub007/pkg/engine/policy"
	"github.com/immateria/codex-mod-sub007/pkg/engine/session"
	"github.com/immateria/codex-mod-sub007/pkg/engine/style"
	"github.com/immateria/codex-mod-sub007/pkg/logger"
)

var serveListenFlag string

// serveCmd hosts the JSON-RPC app server over a websocket endpoint so
// external clients (IDEs, remote UIs) can drive the engine.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the JSON-RPC app server over websocket",
	Run:   runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListenFlag, "listen", "127.0.0.1:7321", "Address to listen on")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) {
	workspaceRoot, err := resolveWorkspaceRoot()
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		return
	}
	projectRoot := filepath.Dir(workspaceRoot)

	eng, err := newAPIEngine(workspaceRoot)
	if err != nil {
		fmt.Printf("Error initializing engine: %v\n", err)
		return
	}

	config, err := appserver.OpenConfigStore(filepath.Join(projectRoot, ".sea", "config.yaml"), map[string]any{
		"model": modelFlag,
		"agent": agentFlag,
	})
	if err != nil {
		fmt.Printf("Error opening config store: %v\n", err)
		return
	}

	styleStore, err := style.NewStore(defaultStyleDir(workspaceRoot))
	if err != nil {
		fmt.Printf("Error opening style store: %v\n", err)
		return
	}

	agentBinary := os.Getenv("CODE_BINARY_PATH")
	if agentBinary == "" {
		agentBinary, _ = os.Executable()
	}

	handler := &appserver.WSHandler{
		Config: config,
		Engine: eng,
		Agents: agentrun.NewManager(agentBinary),
		NewSess: func(connID string) *session.Session {
			return session.New(connID, policy.NewMcpAccessManager(agentFlag, styleStore))
		},
		ConnSeq: uuid.NewString,
	}

	mux := http.NewServeMux()
	mux.Handle("/rpc", handler)

	logger.Info("serve", "app server listening", map[string]interface{}{"addr": serveListenFlag})
	fmt.Printf("App server listening on ws://%s/rpc\n", serveListenFlag)
	if err := http.ListenAndServe(serveListenFlag, mux); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}
