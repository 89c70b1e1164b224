package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jbweber/marionette/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session HTTP API",
	Long: `Serve the HTTP API that creates sessions and executes action batches.

  POST /                         create a session ({"connect": id} or
                                 {"clone": id, "snapshot": name})
  GET  /vm                       list sessions
  POST /vm/{id}/run              run a process in the guest
  POST /vm/{id}/close            close the session
  GET  /vm/{id}/api/execute      run a batch, aborting on the first error
  GET  /vm/{id}/api/executeIsolated
                                 run a batch, reporting each action

Session creation requires basic auth when server.username and
server.password are set. Every open session is closed on shutdown.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer closeClient(client)

		srv, err := server.New(newHypervisor(client), server.Options{
			Username: cfg.Server.Username,
			Password: cfg.Server.Password,
			Layout:   cfg.Keyboard.Layout,
		})
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}
		return srv.ListenAndServe(cmd.Context(), cfg.Server.Listen)
	},
}

func init() {
	serveCmd.Flags().String("listen", "127.0.0.1:8080", "address to listen on")
	mustBind(serveCmd.Flags(), "server.listen", "listen")
}
