package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/streamgate/streamgate/internal/auth"
	"github.com/streamgate/streamgate/internal/bouncer"
	"github.com/streamgate/streamgate/internal/hls"
	internalhttp "github.com/streamgate/streamgate/internal/http"
	"github.com/streamgate/streamgate/internal/metrics"
	"github.com/streamgate/streamgate/internal/porter"
	"github.com/streamgate/streamgate/internal/session"
	"github.com/streamgate/streamgate/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start an HLS streamer",
	Long: `Start an HLS streamer: the fragment ring, playlist renderer,
session gate, and authentication chain behind one mount point.

Fragments are fed over the /ingest endpoints, authorized with the
hls.secret bearer token. With porter_client.enabled the streamer takes
its client connections from a porter over the control socket instead of
binding its own port.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "host to bind to")
	serveCmd.Flags().Int("port", 0, "port to listen on")
	serveCmd.Flags().String("mount", "", "mount point served by this streamer")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if host, ok := flagString(cmd.Flags(), "host"); ok {
		cfg.Server.Host = host
	}
	if port, ok := flagInt(cmd.Flags(), "port"); ok {
		cfg.Server.Port = port
	}
	if mount, ok := flagString(cmd.Flags(), "mount"); ok {
		cfg.HLS.MountPoint = mount
	}
	if cfg.HLS.Secret == "" {
		return fmt.Errorf("hls.secret is required to sign session tokens")
	}

	log := setupLogger(cfg, version.ApplicationName)
	met := metrics.New()

	mount := hls.NormalizeMountPoint(cfg.HLS.MountPoint)

	ring := hls.NewRing(hls.RingConfig{
		FragmentPrefix:       cfg.HLS.FragmentPrefix,
		FilenameExt:          cfg.HLS.FilenameExt,
		Window:               cfg.HLS.Window,
		MaxExtra:             cfg.HLS.MaxExtra,
		NewFragmentTolerance: cfg.HLS.NewFragmentTolerance,
		KeyInterval:          cfg.HLS.KeyInterval,
	})
	ring.OnEvict(met.IncFragmentsEvicted)

	playlister := hls.NewPlaylister(hls.PlaylistConfig{
		Hostname:      cfg.HLS.Hostname,
		StreamBitrate: cfg.HLS.StreamBitrate,
		Title:         cfg.HLS.Title,
		KeysURI:       cfg.HLS.KeysURI,
		AllowCache:    cfg.HLS.AllowCache,
	}, ring)

	streamer := hls.NewStreamer(cfg.HLS.MaxClients, cfg.HLS.MaxBandwidth)

	store := session.NewStore(cfg.HLS.SessionTimeout)
	defer store.Close()

	codec := session.NewTokenCodec([]byte(cfg.HLS.Secret), mount)

	bnc, err := bouncer.New(cfg.Auth.Bouncer, log, met)
	if err != nil {
		return fmt.Errorf("building bouncer: %w", err)
	}

	issuer, err := auth.NewIssuer(cfg.Auth.Issuer)
	if err != nil {
		return fmt.Errorf("building issuer: %w", err)
	}

	// A typed nil bouncer must not reach the interface field.
	var gate auth.Authenticator
	if bnc != nil {
		gate = bnc
	}
	authz := auth.NewHTTPAuth(auth.HTTPAuthConfig{
		RequesterID:       version.ApplicationName + "-" + uuid.NewString(),
		Domain:            cfg.Auth.Domain,
		DefaultDuration:   cfg.Auth.DefaultDuration,
		KeepaliveInterval: cfg.Auth.KeepaliveInterval,
		KeepaliveRetry:    cfg.Auth.KeepaliveRetry,
	}, issuer, gate, log)
	if bnc != nil {
		bnc.OnExpire(func(ids []string) {
			for _, id := range ids {
				authz.ExpireKeycardID(id)
			}
		})
		bnc.Start()
		defer bnc.Stop()
	}
	authz.Start()
	defer authz.Stop()

	resource := hls.NewResource(hls.ResourceConfig{
		MountPoint:          mount,
		RedirectOnFull:      cfg.HLS.RedirectOnFull,
		DefaultAuthDuration: cfg.Auth.DefaultDuration,
		RequestTimeout:      cfg.HLS.RequestTimeout,
	}, ring, playlister, streamer, store, codec, authz, log, met)

	ingest := hls.NewIngest([]byte(cfg.HLS.Secret), ring, streamer, log, met)

	server := internalhttp.New(cfg.Server, mount, resource, ingest, met, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	if cfg.PorterClient.Enabled {
		client, err := porter.Dial(cfg.PorterClient, log)
		if err != nil {
			return fmt.Errorf("dialing porter: %w", err)
		}
		defer client.Close()

		prefix := strings.TrimSuffix(mount, "/")
		if prefix == "" {
			prefix = "/"
		}
		if err := client.RegisterPrefix(prefix); err != nil {
			return fmt.Errorf("registering mount with porter: %w", err)
		}
		log.Info("slaved to porter",
			slog.String("socket", cfg.PorterClient.SocketPath),
			slog.String("prefix", prefix),
			slog.String("version", version.Version))
		go func() { errCh <- server.Serve(client.Listener()) }()
	} else {
		log.Info("starting streamer",
			slog.String("addr", cfg.Server.Address()),
			slog.String("mount", mount),
			slog.String("version", version.Version))
		go func() { errCh <- server.ListenAndServe() }()
	}

	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	return server.Shutdown(context.Background())
}
