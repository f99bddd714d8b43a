package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"disaster-manager-go/pkg/config"
	"disaster-manager-go/pkg/errors"
	"disaster-manager-go/pkg/guard"
	"disaster-manager-go/pkg/history"
	"disaster-manager-go/pkg/hostlink"
	"disaster-manager-go/pkg/log"
	"disaster-manager-go/pkg/metrics"
	"disaster-manager-go/pkg/odometer"
	"disaster-manager-go/pkg/sensor"
)

// ServeCmd runs the odometer service.
// Usage: disaster-manager serve -c printer.cfg --listen :7130
type ServeCmd struct {
	Config      string `short:"c" long:"config" description:"printer.cfg or OctoPrint config.yaml"`
	Listen      string `short:"l" long:"listen" description:"host link address" default:":7130"`
	Metrics     string `long:"metrics" description:"Prometheus address, empty to disable" default:":9130"`
	History     string `long:"history" description:"SQLite job history path, empty to disable"`
	LogFile     string `long:"logfile" description:"log file path (default: stderr)"`
	LogTee      bool   `long:"log-tee" description:"also log to stderr when --logfile is set"`
	StatusEvery string `long:"status-interval" description:"status push period" default:"250ms"`
}

// loadedConfig is what serve reads from the configuration file.
type loadedConfig struct {
	Settings config.Settings
	Encoder  *sensor.EncoderConfig
}

// loadConfig reads settings and the optional encoder section. YAML files
// carry settings only.
func loadConfig(path string) (loadedConfig, error) {
	if path == "" {
		return loadedConfig{Settings: config.DefaultSettings()}, nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		s, err := config.LoadYAML(path)
		return loadedConfig{Settings: s}, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return loadedConfig{}, errors.ConfigFileError(path, err)
	}
	s, err := config.FromConfig(cfg)
	if err != nil {
		return loadedConfig{}, err
	}
	out := loadedConfig{Settings: s}
	if sec := cfg.GetSectionOptional(sensor.EncoderSection); sec != nil {
		enc, err := sensor.EncoderConfigFromSection(sec)
		if err != nil {
			return loadedConfig{}, err
		}
		if enc.Tool >= s.ToolCount {
			return loadedConfig{}, errors.ConfigValidationError(sensor.EncoderSection, "tool",
				fmt.Sprintf("tool %d is out of range, tool_count is %d", enc.Tool, s.ToolCount))
		}
		out.Encoder = &enc
	}
	return out, nil
}

func (s *ServeCmd) Execute(_ []string) error {
	logger := log.GetLogger("main")
	if s.LogFile != "" {
		fw, err := log.AttachFile(log.Default(), log.RotationConfig{Filename: s.LogFile, Compress: true}, s.LogTee)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer fw.Close()
	}
	interval, err := time.ParseDuration(s.StatusEvery)
	if err != nil {
		return fmt.Errorf("invalid --status-interval: %w", err)
	}

	loaded, err := loadConfig(s.Config)
	if err != nil {
		return err
	}
	settings := loaded.Settings
	logger.Info("========================================")
	logger.Info("Disaster Manager Starting")
	logger.Info("========================================")
	logger.WithFields(log.Fields{
		"config":       s.Config,
		"tools":        settings.ToolCount,
		"pause_on_jam": settings.PauseOnJam,
		"threshold":    settings.JamThresholdMM,
	}).Info("settings loaded")

	odo, err := odometer.New(odometer.Options{
		ToolCount:         settings.ToolCount,
		G90ExtruderCompat: settings.G90ExtruderCompat,
		SensorTimeout:     settings.SensorTimeout,
	})
	if err != nil {
		return err
	}

	fm := metrics.NewFilamentMetrics()
	opts := guard.Options{Metrics: fm}

	var store *history.Store
	if s.History != "" {
		if err := os.MkdirAll(filepath.Dir(s.History), 0o755); err != nil {
			return errors.HistoryError("open", err)
		}
		store, err = history.Open(s.History)
		if err != nil {
			return err
		}
		defer store.Close()
		opts.Recorder = store
		logger.Info("job history at %s", s.History)
	}

	ctrl, err := guard.New(odo, settings, opts)
	if err != nil {
		return err
	}

	hcfg := hostlink.Config{Addr: s.Listen, Controller: ctrl, StatusInterval: interval}
	if store != nil {
		hcfg.History = store
	}
	link := hostlink.New(hcfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 4)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := ctrl.Run(ctx, link); err != nil && ctx.Err() == nil {
			errCh <- err
		}
	}()

	go func() {
		if err := link.Start(); err != nil {
			errCh <- fmt.Errorf("host link: %w", err)
		}
	}()

	var ms *metrics.Server
	if s.Metrics != "" {
		ms = metrics.NewServer(fm, metrics.ServerConfig{
			Addr: s.Metrics,
			Health: func() metrics.Health {
				st := ctrl.Status()
				return metrics.Health{
					State:       st.State,
					Tracking:    st.Tracking,
					Jammed:      st.Jammed,
					ActiveTool:  st.ActiveTool,
					JobID:       st.JobID,
					HostClients: link.ClientCount(),
				}
			},
			Ready: func() error {
				if !link.Running() {
					return fmt.Errorf("host link not listening on %s", s.Listen)
				}
				if ctrl.Settings().PauseOnJam && link.ClientCount() == 0 {
					return fmt.Errorf("pause_on_jam is set but no host is connected")
				}
				return nil
			},
		})
		go func() {
			if err := ms.ListenAndServe(); err != nil {
				errCh <- fmt.Errorf("metrics: %w", err)
			}
		}()
		logger.Info("metrics on %s/metrics", s.Metrics)
	}

	if loaded.Encoder != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := runEncoder(ctx, *loaded.Encoder, ctrl); err != nil {
				logger.WithError(err).Error("filament encoder stopped")
			}
		}()
	}

	var reloader *config.ReloadManager
	hup := make(chan struct{}, 1)
	if s.Config != "" {
		reloader = config.NewReloadManager(s.Config, settings, ctrl)
		reloader.SetCallbacks(nil, func(res config.ReloadResult) {
			switch {
			case res.Err != nil:
				logger.WithError(res.Err).Warn("reload rejected, keeping previous settings")
			case res.Changed:
				logger.Info("settings reloaded from %s", res.Path)
			default:
				logger.Debug("settings unchanged")
			}
		})
		wg.Add(1)
		go func() {
			defer wg.Done()
			reloader.Run(ctx, hup)
		}()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	var runErr error
loop:
	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				select {
				case hup <- struct{}{}:
				default:
				}
				continue
			}
			logger.Info("received %v, shutting down", sig)
			break loop
		case runErr = <-errCh:
			break loop
		}
	}

	cancel()
	link.Stop()
	if ms != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		ms.Shutdown(shutdownCtx)
		done()
	}
	wg.Wait()
	logger.Info("stopped")
	return runErr
}

// runEncoder feeds pulses from a GPIO encoder into the controller.
func runEncoder(ctx context.Context, cfg sensor.EncoderConfig, ctrl *guard.Controller) error {
	pin, err := sensor.OpenPin(cfg.Pin, cfg.Edge)
	if err != nil {
		return errors.SensorUnavailableError(fmt.Sprintf("gpio%d", cfg.Pin), err)
	}
	defer pin.Close()

	src, err := sensor.NewEncoderSource(pin, cfg)
	if err != nil {
		return err
	}
	return src.Run(ctx, func(s sensor.Sample) error {
		_, err := ctrl.HandleSensorSample(s)
		return err
	})
}
