package cmd

import (
	"errors"
	"fmt"
	"net"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/intersection-controller/internal/checkpoint"
	"github.com/danielpatrickdp/intersection-controller/internal/logging"
	"github.com/danielpatrickdp/intersection-controller/internal/rpc"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve admission decisions over gRPC",
	Long: `Load a road map (turns and intersection controls) from a fixture file and
serve the intersection.v1.Arbiter gRPC service. Every request, enter and exit
is written to the decision log in the store database. With --restore the
active checkpoint is loaded before serving.`,
	RunE: runServe,
}

var (
	serveMap     string
	serveRestore bool
)

func init() {
	serveCmd.Flags().StringVar(&serveMap, "map", "", "fixture file holding turns and controls (required)")
	serveCmd.Flags().BoolVar(&serveRestore, "restore", false, "resume from the active checkpoint")
	serveCmd.Flags().String("addr", "", "listen address (overrides server.addr)")
	serveCmd.Flags().String("db", "", "SQLite database (overrides store.path)")
	_ = serveCmd.MarkFlagRequired("map")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("store.path", serveCmd.Flags().Lookup("db"))
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	_, g, controls, err := loadMap(serveMap)
	if err != nil {
		return err
	}

	store, err := checkpoint.NewStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	a, err := newArbiter(g, controls, cfg, logger)
	if err != nil {
		return err
	}
	if serveRestore {
		cp, err := store.GetCurrent()
		switch {
		case errors.Is(err, checkpoint.ErrNoCheckpoint):
			logger.Warn("no checkpoint to restore")
		case err != nil:
			return err
		default:
			if err := a.Restore(cp); err != nil {
				return err
			}
		}
	}

	decisions, err := logging.NewDecisionLog(store.DB())
	if err != nil {
		return err
	}
	a.SetSink(decisions)

	lis, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Server.Addr, err)
	}
	server := grpc.NewServer(grpc.UnaryInterceptor(rpc.UnaryLogger(logger)))
	rpc.NewServer(a, store, logger).Register(server)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		server.GracefulStop()
	}()

	logger.Info("serving", "addr", lis.Addr().String(), "intersections", len(a.Intersections()), "store", cfg.Store.Path)
	fmt.Fprintf(cmd.OutOrStdout(), "serving %d intersections on %s\n", len(a.Intersections()), lis.Addr())
	if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}
