// Command ask sends one question through the configured language model
// and optionally speaks the answer, without touching the microphone.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"node.town/parley/audio"
	"node.town/parley/config"
	"node.town/parley/llm"
	"node.town/parley/tts"
)

var rootCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Ask the language model one question",
	Args:  cobra.MinimumNArgs(1),
	Run:   runAsk,
}

func init() {
	rootCmd.Flags().Bool("speak", false, "Speak the answer")
	rootCmd.Flags().Duration("timeout", time.Minute, "Give up after this long")
}

func runAsk(cmd *cobra.Command, args []string) {
	logger := log.New(cmd.ErrOrStderr()).WithPrefix("ask")

	godotenv.Load()
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	config.SetDefaults(v)
	config.BindEnv(v)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			logger.Fatal("read config", "error", err)
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		logger.Fatal("load config", "error", err)
	}

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	model, err := llm.New(ctx, cfg.LLM.Provider, cfg.LLMOptions())
	if err != nil {
		logger.Fatal("language model", "error", err)
	}
	if closer, ok := model.(io.Closer); ok {
		defer closer.Close()
	}

	question := strings.Join(args, " ")
	logger.Debug("asking", "provider", cfg.LLM.Provider, "question", question)

	answer, err := model.Complete(ctx, question)
	if err != nil {
		logger.Fatal("complete", "error", err)
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(72),
	)
	if err != nil {
		logger.Fatal("failed to create renderer", "error", err)
	}
	rendered, err := renderer.Render(answer)
	if err != nil {
		rendered = answer + "\n"
	}
	fmt.Fprint(cmd.OutOrStdout(), rendered)

	speak, _ := cmd.Flags().GetBool("speak")
	if !speak || !cfg.SpeechEnabled() {
		return
	}

	speech, err := tts.New(cfg.TTS.Provider, cfg.TTSOptions())
	if err != nil {
		logger.Fatal("speech generator", "error", err)
	}
	clip, err := speech.Synthesize(ctx, answer)
	if err != nil {
		logger.Fatal("synthesize", "error", err)
	}
	if err := audio.NewSpeakerPlayer(logger).Play(ctx, clip); err != nil {
		logger.Fatal("play", "error", err)
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
