package cmd

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/streamgate/streamgate/internal/metrics"
	"github.com/streamgate/streamgate/internal/porter"
)

// credentialLength is the size of generated control-socket credentials.
const credentialLength = 12

var porterCmd = &cobra.Command{
	Use:   "porter",
	Short: "Start the front-door port multiplexer",
	Long: `Start the porter: it owns the public port, reads the first
request line of each incoming connection, and passes the open socket to
whichever streamer registered the matching path over the control socket.

When no socket path or credentials are configured they are generated at
startup and logged so streamers can be pointed at them.`,
	RunE: runPorter,
}

func init() {
	rootCmd.AddCommand(porterCmd)

	porterCmd.Flags().Int("port", 0, "public port to listen on")
	porterCmd.Flags().String("socket", "", "control socket path")
}

func runPorter(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port, ok := flagInt(cmd.Flags(), "port"); ok {
		cfg.Porter.Port = port
	}
	if socket, ok := flagString(cmd.Flags(), "socket"); ok {
		cfg.Porter.SocketPath = socket
	}

	log := setupLogger(cfg, "streamgate-porter")
	met := metrics.New()

	if cfg.Porter.SocketPath == "" {
		cfg.Porter.SocketPath = filepath.Join(os.TempDir(),
			fmt.Sprintf("streamgate-porter.%d", os.Getpid()))
	}
	if cfg.Porter.Username == "" {
		cfg.Porter.Username = randomCredential(credentialLength)
	}
	if cfg.Porter.Password == "" {
		cfg.Porter.Password = randomCredential(credentialLength)
	}
	// Streamers need these to log in; operators grep them from startup
	// output when running with generated credentials.
	log.Info("porter control socket",
		slog.String("path", cfg.Porter.SocketPath),
		slog.String("username", cfg.Porter.Username),
		slog.String("password", cfg.Porter.Password))

	p := porter.New(log)

	control := porter.NewControlServer(cfg.Porter, p, log)
	if err := control.Listen(); err != nil {
		return fmt.Errorf("control socket: %w", err)
	}
	defer control.Close()

	addr := fmt.Sprintf("%s:%d", cfg.Porter.Interface, cfg.Porter.Port)
	listener := porter.NewListener(addr, porter.Dialect(cfg.Porter.Protocol), p, log, met)
	if err := listener.Listen(); err != nil {
		return fmt.Errorf("public listener: %w", err)
	}
	defer listener.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	go func() { errCh <- control.Serve(ctx) }()
	go func() { errCh <- listener.Serve(ctx) }()

	log.Info("porter listening",
		slog.String("addr", listener.Addr().String()),
		slog.String("protocol", cfg.Porter.Protocol))

	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
		return nil
	case err := <-errCh:
		return err
	}
}

// randomCredential returns n random characters from [a-zA-Z0-9].
func randomCredential(n int) string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("reading random bytes: %v", err))
	}
	for i, b := range buf {
		buf[i] = charset[int(b)%len(charset)]
	}
	return string(buf)
}
