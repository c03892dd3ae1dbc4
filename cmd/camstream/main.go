package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yok-tottii/camstream/internal/audio"
	"github.com/yok-tottii/camstream/internal/camera"
	"github.com/yok-tottii/camstream/internal/config"
)

var version = "0.1.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "camstream",
	Short: "Camera and microphone gateway",
	Long: `camstream exposes a local camera and microphone over HTTP and WebSocket:
an MJPEG video feed, a live PCM audio socket and start/stop WAV recording.`,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile, cmd.Flags())
		if err != nil {
			return err
		}
		return serve(cfg)
	},
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio inputs and camera formats",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile, nil)
		if err != nil {
			return err
		}
		return listDevices(cfg)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage the configuration file",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := cfgFile
		if path == "" {
			path = config.GetConfigPath()
		}
		if _, err := os.Stat(path); err == nil {
			force, _ := cmd.Flags().GetBool("force")
			if !force {
				return fmt.Errorf("%s already exists, use --force to overwrite", path)
			}
		}
		if err := config.DefaultConfig().Save(path); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", path)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("camstream v%s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./camstream.yaml or the user config dir)")

	serveCmd.Flags().String("host", "", "listen host (overrides server.host)")
	serveCmd.Flags().Int("port", 0, "listen port (overrides server.port)")
	serveCmd.Flags().String("log-level", "", "log level: debug, info, warn or error")

	configInitCmd.Flags().Bool("force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// serve runs the gateway until SIGINT or SIGTERM
func serve(cfg *config.Config) error {
	app, err := NewApp(cfg, os.Stderr)
	if err != nil {
		return err
	}

	if err := app.Start(); err != nil {
		app.Shutdown(context.Background())
		return err
	}

	fmt.Println("==========================================================")
	fmt.Printf("[起動] camstream v%s\n", version)
	fmt.Printf("[映像] %s/video_feed\n", app.URL())
	fmt.Printf("[音声] %s/ws/audio\n", wsURL(app.URL()))
	fmt.Printf("[終了] Ctrl+C\n")
	fmt.Println("==========================================================")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()
	stop()

	app.logger.Info("終了シグナルを受信しました")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GetShutdownTimeout())
	defer cancel()
	return app.Shutdown(shutdownCtx)
}

func wsURL(httpURL string) string {
	return "ws" + httpURL[len("http"):]
}

// listDevices prints the inputs the configured drivers can see
func listDevices(cfg *config.Config) error {
	fmt.Println("Audio inputs:")
	driver, err := audio.NewPortAudioDriver(audioConfig(cfg))
	if err != nil {
		fmt.Printf("  unavailable: %v\n", err)
	} else {
		defer driver.Close()
		devices, err := driver.ListDevices()
		if err != nil {
			fmt.Printf("  unavailable: %v\n", err)
		}
		for _, d := range devices {
			marker := " "
			if d.IsDefault {
				marker = "*"
			}
			fmt.Printf(" %s %3d  %s\n", marker, d.ID, d.Name)
		}
	}

	fmt.Printf("\nCamera formats (%s):\n", cfg.Camera.Device)
	formats, err := camera.ListFormats(cfg.Camera.Device)
	if err != nil {
		fmt.Printf("  unavailable: %v\n", err)
		return nil
	}
	for _, f := range formats {
		fmt.Printf("  %s\n", f)
	}
	return nil
}
