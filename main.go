package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/olekukonko/tablewriter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"node.town/parley/audio"
	"node.town/parley/config"
	"node.town/parley/llm"
	"node.town/parley/metrics"
	"node.town/parley/session"
	"node.town/parley/setup"
	"node.town/parley/stt"
	"node.town/parley/tts"
	"node.town/parley/ui"
	"node.town/parley/web"
)

var logger *log.Logger

func init() {
	cobra.OnInitialize(initConfig)

	listenCmd.Flags().Bool("headless", false, "Start listening immediately without the terminal UI")
	listenCmd.Flags().String("log-file", "parley.log", "Log file used while the terminal UI is running")
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(setupCmd)

	rootCmd.PersistentFlags().
		String("deepgram-api-key", "", "Deepgram API key")
	rootCmd.PersistentFlags().
		String("llm-provider", "", "Language model provider (openai, gemini, endpoint)")
	rootCmd.PersistentFlags().
		String("openai-api-key", "", "Language model API key")
	rootCmd.PersistentFlags().
		String("tts-provider", "", "Speech provider (elevenlabs, endpoint, none)")
	rootCmd.PersistentFlags().
		String("elevenlabs-api-key", "", "ElevenLabs API key")
	rootCmd.PersistentFlags().
		String("http-addr", "", "Status server address, e.g. :8081")
	rootCmd.PersistentFlags().String("log-level", "", "Log level")

	viper.BindPFlag(
		"deepgram.api_key",
		rootCmd.PersistentFlags().Lookup("deepgram-api-key"),
	)
	viper.BindPFlag(
		"llm.provider",
		rootCmd.PersistentFlags().Lookup("llm-provider"),
	)
	viper.BindPFlag(
		"llm.api_key",
		rootCmd.PersistentFlags().Lookup("openai-api-key"),
	)
	viper.BindPFlag(
		"tts.provider",
		rootCmd.PersistentFlags().Lookup("tts-provider"),
	)
	viper.BindPFlag(
		"tts.api_key",
		rootCmd.PersistentFlags().Lookup("elevenlabs-api-key"),
	)
	viper.BindPFlag("http.addr", rootCmd.PersistentFlags().Lookup("http-addr"))
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func initConfig() {
	godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	config.SetDefaults(viper.GetViper())
	config.BindEnv(viper.GetViper())

	logger = log.New(os.Stderr)

	err := viper.ReadInConfig()
	if err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Printf("Error reading config file: %s\n", err)
		}
	}
}

var rootCmd = &cobra.Command{
	Use:   "parley",
	Short: "Parley is a voice assistant for the terminal",
	Long:  `Parley streams your microphone to Deepgram, sends each finished utterance to a language model and speaks the answer.`,
}

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Start a voice session",
	Run:   runListen,
}

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "List audio input devices",
	Run:   runDevices,
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Write API keys and providers to config.yaml",
	Run:   runSetup,
}

func runListen(cmd *cobra.Command, args []string) {
	headless, _ := cmd.Flags().GetBool("headless")
	if !headless {
		path, _ := cmd.Flags().GetString("log-file")
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logger.Fatal("open log file", "error", err)
		}
		defer f.Close()
		logger.SetOutput(f)
	}

	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		logger.Fatal("load config", "error", err)
	}

	logs := createLoggers(cfg.Log.Level)
	mainLogger := logs.main

	if err := cfg.Validate(); err != nil {
		for _, e := range multierr.Errors(err) {
			mainLogger.Error("config", "problem", e)
		}
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer cancel()

	model, err := llm.New(ctx, cfg.LLM.Provider, cfg.LLMOptions())
	if err != nil {
		mainLogger.Fatal("language model", "error", err)
	}
	if closer, ok := model.(io.Closer); ok {
		defer closer.Close()
	}

	var speech tts.SpeechGenerator
	var player audio.Player
	if cfg.SpeechEnabled() {
		speech, err = tts.New(cfg.TTS.Provider, cfg.TTSOptions())
		if err != nil {
			mainLogger.Fatal("speech generator", "error", err)
		}
		player = audio.NewSpeakerPlayer(logs.talk)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	monitor := session.NewMonitor(64)
	sess := session.New(
		session.Config{
			Transcription:     cfg.TranscriptionOptions(),
			Constraints:       cfg.Constraints(),
			RelayCapacity:     cfg.Audio.RelayCapacity,
			KeepAliveInterval: cfg.Session.KeepAliveInterval,
			Policy:            cfg.Policy(),
		},
		session.Deps{
			Transcriber: stt.NewDeepgramTranscriber(logs.hear),
			Device:      audio.NewPortAudioDevice(cfg.Audio.FramesPerBuffer, logs.hear),
			Model:       model,
			Speech:      speech,
			Player:      player,
			Observer:    monitor,
			Metrics:     metrics.New(reg),
			Logger:      logs.talk,
		},
	)
	defer sess.Stop()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.HTTP.Addr != "" {
		handler := web.NewHandler(sess, monitor, reg, logs.http)
		g.Go(func() error {
			return web.Serve(ctx, cfg.HTTP.Addr, handler, logs.http)
		})
	}

	if headless {
		if err := sess.Start(ctx); err != nil {
			mainLogger.Fatal("start session", "error", err)
		}
		g.Go(func() error {
			<-ctx.Done()
			return sess.Stop()
		})
	} else {
		g.Go(func() error {
			defer cancel()
			return ui.Run(sess, monitor)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		mainLogger.Error("exit", "error", err)
		os.Exit(1)
	}
}

func runDevices(cmd *cobra.Command, args []string) {
	mainLogger := createLoggers(viper.GetString("log.level")).main

	devices, err := audio.ListInputDevices()
	if err != nil {
		mainLogger.Fatal("list devices", "error", err)
	}

	if len(devices) == 0 {
		fmt.Println("No input devices found.")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"#", "Name", "Host API", "Channels", "Rate", "Default"})
	table.SetBorder(false)
	table.SetHeaderLine(true)
	table.SetCenterSeparator("|")
	table.SetColumnSeparator("|")
	table.SetRowSeparator("-")
	table.SetAutoWrapText(false)

	for _, d := range devices {
		def := ""
		if d.IsDefault {
			def = "*"
		}
		table.Append([]string{
			fmt.Sprintf("%d", d.Index),
			d.Name,
			d.HostAPI,
			fmt.Sprintf("%d", d.Channels),
			fmt.Sprintf("%.0f", d.DefaultSampleRate),
			def,
		})
	}

	table.Render()
}

func runSetup(cmd *cobra.Command, args []string) {
	mainLogger := createLoggers(viper.GetString("log.level")).main

	path := viper.ConfigFileUsed()
	if path == "" {
		path = "config.yaml"
	}
	if err := setup.Run(viper.GetViper(), path, mainLogger); err != nil {
		mainLogger.Fatal("setup", "error", err)
	}
}

// loggers are the prefixed children of the root logger, one per subsystem.
type loggers struct {
	main *log.Logger
	hear *log.Logger
	talk *log.Logger
	http *log.Logger
}

func createLoggers(level string) loggers {
	logLevel, err := log.ParseLevel(level)
	if err != nil {
		logLevel = log.InfoLevel
	}

	logger.SetLevel(logLevel)
	logger.SetReportCaller(true)
	logger.SetCallerFormatter(relativeCaller)
	logger.SetStyles(logStyles())

	return loggers{
		main: logger.WithPrefix("main"),
		hear: logger.WithPrefix("hear"),
		talk: logger.WithPrefix("talk"),
		http: logger.WithPrefix("http"),
	}
}

func relativeCaller(file string, line int, _ string) string {
	path, err := filepath.Rel(".", file)
	if err != nil {
		path = file
	}
	return fmt.Sprintf("%s:%d", path, line)
}

func logStyles() *log.Styles {
	styles := log.DefaultStyles()
	styles.Prefix = styles.Prefix.MarginTop(1).
		Bold(false).
		Transform(func(s string) string { return strings.TrimSuffix(s, ":") })

	for _, level := range []log.Level{
		log.DebugLevel,
		log.InfoLevel,
		log.WarnLevel,
		log.ErrorLevel,
	} {
		styles.Levels[level] = styles.Levels[level].
			MaxWidth(6).
			MarginRight(1).
			Bold(false)
	}

	styles.Message = styles.Message.Bold(true).Width(24)
	styles.Key = styles.Key.MarginLeft(1).
		Bold(false).
		Foreground(lipgloss.Color("#ff8800"))
	return styles
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
