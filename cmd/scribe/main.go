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

	"scribe-ai/internal/adapter/terminal"
	"scribe-ai/internal/domain"
	"scribe-ai/internal/infra/config"
	"scribe-ai/internal/infra/logger"
	"scribe-ai/internal/infra/tracer"
	"scribe-ai/internal/usecase"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	cmd := "stream"
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "doctor":
		err = runDoctor()
	case "encrypt":
		err = runEncrypt(args)
	case "stream", "complete", "image", "moderate", "transcribe":
		err = run(cmd, parseFlags(args))
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'scribe --help' for usage information.\n", cmd)
		os.Exit(1)
	}
	if err != nil {
		var reported *reportedError
		if !errors.As(err, &reported) {
			fmt.Fprintf(os.Stderr, "%s: %v\n", cmd, err)
		}
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`scribe - streaming writing assistant

USAGE:
    scribe [COMMAND] [FLAGS] [PROMPT...]

COMMANDS:
    stream      Stream a continuation into the terminal (default)
    complete    Run a single non-streaming completion
    image       Generate one image from the prompt
    moderate    Check text against the moderation rules
    transcribe  Transcribe an audio file (--audio PATH)
    encrypt     Encrypt a value for config.yaml with SCRIBEAI_CONFIG_KEY
    doctor      Run health checks on your setup

    The prompt is read from stdin when no PROMPT is given.

FLAGS:
    -h, --help           Show this help message
    --config PATH        Specify config file path (default: ./config.yaml)
    --model NAME         Model name (e.g. gpt-4o-mini)
    --key KEY            API key for the provider
    --background PATH    File with the surrounding document text
    --markdown           Render paragraphs as markdown
    --out PATH           Write the generated document to PATH
    --audio PATH         Audio file for transcribe

CONFIGURATION:
    Config file: ./config.yaml
    Environment: SCRIBEAI_* variables override config

EXAMPLES:
    scribe "Write an opening paragraph about the sea"
    scribe --background chapter1.md --out chapter2.md "Continue the story"
    scribe moderate "some text"
    scribe doctor`)
}

// cliFlags holds the flags shared by the generation commands.
type cliFlags struct {
	Model      string
	APIKey     string
	Background string
	Out        string
	Audio      string
	Markdown   bool
	Args       []string
}

// parseFlags extracts known flags; everything else is the prompt.
func parseFlags(args []string) cliFlags {
	var flags cliFlags
	value := func(i *int, name string) (string, bool) {
		arg := args[*i]
		if arg == name && *i+1 < len(args) {
			*i++
			return args[*i], true
		}
		if strings.HasPrefix(arg, name+"=") {
			return strings.TrimPrefix(arg, name+"="), true
		}
		return "", false
	}

	for i := 0; i < len(args); i++ {
		if v, ok := value(&i, "--model"); ok {
			flags.Model = v
		} else if v, ok := value(&i, "--key"); ok {
			flags.APIKey = v
		} else if v, ok := value(&i, "--background"); ok {
			flags.Background = v
		} else if v, ok := value(&i, "--out"); ok {
			flags.Out = v
		} else if v, ok := value(&i, "--audio"); ok {
			flags.Audio = v
		} else if _, ok := value(&i, "--config"); ok {
			// read by configPath
		} else if args[i] == "--markdown" {
			flags.Markdown = true
		} else {
			flags.Args = append(flags.Args, args[i])
		}
	}
	return flags
}

func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("SCRIBEAI_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

// reportedError marks a failure already shown to the user.
type reportedError struct{ err error }

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

func run(cmd string, flags cliFlags) error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if flags.Model != "" {
		cfg.Provider.Model = flags.Model
	}
	if flags.APIKey != "" {
		cfg.Provider.APIKey = flags.APIKey
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(context.WithoutCancel(ctx))

	// 3. Security (audit)
	sec, securityCleanup, err := initSecurity(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("security: %w", err)
	}
	defer securityCleanup()

	// 4. LLM clients
	llmComp := initLLM(cfg, log)

	// 5. Generator
	sink, err := terminal.NewSink(os.Stdout, terminal.SinkOptions{Markdown: flags.Markdown})
	if err != nil {
		return fmt.Errorf("terminal: %w", err)
	}
	gen, genCleanup, err := initGenerator(cfg, llmComp, sec, sink, log)
	if err != nil {
		return fmt.Errorf("generator: %w", err)
	}
	defer genCleanup()

	cmdErr := dispatch(ctx, cmd, flags, cfg, gen, sink)
	if cmdErr != nil {
		fe := terminal.Humanize(cmdErr)
		if _, ok := domain.AsClassified(cmdErr); ok {
			fe.Message = "" // already shown by the notifier
		}
		fmt.Fprintln(os.Stderr, fe.Render())
		log.Debug("command failed", "command", cmd, "error", cmdErr)
		return &reportedError{err: cmdErr}
	}
	return nil
}

func dispatch(ctx context.Context, cmd string, flags cliFlags, cfg *config.Config, gen *usecase.Generator, sink *terminal.Sink) error {
	if cmd == "transcribe" {
		return runTranscribe(ctx, flags, cfg, gen)
	}

	prompt, err := readPrompt(flags.Args, os.Stdin)
	if err != nil {
		return err
	}

	switch cmd {
	case "complete":
		req, err := generateRequest(prompt, flags, cfg)
		if err != nil {
			return err
		}
		resp, err := gen.Complete(ctx, req)
		if err != nil {
			return err
		}
		fmt.Println(resp.Content)
		return nil

	case "image":
		img, err := gen.GenerateImage(ctx, prompt)
		if err != nil {
			return err
		}
		fmt.Println(img.URL)
		if img.RevisedPrompt != "" {
			fmt.Fprintln(os.Stderr, terminal.TextMuted.Render(img.RevisedPrompt))
		}
		return nil

	case "moderate":
		v, err := gen.Moderate(ctx, prompt)
		if err != nil {
			return err
		}
		if v == nil {
			fmt.Println(terminal.FormatNotice(domain.NoticeSuccess, "no violation"))
			return nil
		}
		fmt.Println(terminal.FormatNotice(domain.NoticeWarning,
			fmt.Sprintf("%s/%s (%s): %s", v.Category, v.Tier, v.Source, v.Message)))
		if len(v.Terms) > 0 {
			fmt.Println("  terms:", strings.Join(v.Terms, ", "))
		}
		return nil

	default:
		req, err := generateRequest(prompt, flags, cfg)
		if err != nil {
			return err
		}
		_, streamErr := gen.Stream(ctx, req)
		if flags.Out != "" && sink.Paragraphs() > 0 {
			if err := os.WriteFile(flags.Out, []byte(sink.Document()+"\n"), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", flags.Out, err)
			}
		}
		return streamErr
	}
}

func generateRequest(prompt string, flags cliFlags, cfg *config.Config) (usecase.GenerateRequest, error) {
	req := usecase.GenerateRequest{
		Prompt:      prompt,
		Model:       cfg.Provider.Model,
		Temperature: cfg.Provider.Temperature,
		MaxTokens:   cfg.Provider.MaxTokens,
	}
	if flags.Background != "" {
		data, err := os.ReadFile(flags.Background)
		if err != nil {
			return req, fmt.Errorf("read background: %w", err)
		}
		req.Background = string(data)
	}
	return req, nil
}

func runTranscribe(ctx context.Context, flags cliFlags, cfg *config.Config, gen *usecase.Generator) error {
	if flags.Audio == "" {
		return domain.NewDomainError("transcribe", domain.ErrInvalidInput, "--audio is required")
	}
	audio, err := os.ReadFile(flags.Audio)
	if err != nil {
		return fmt.Errorf("read audio: %w", err)
	}
	text, err := gen.Transcribe(ctx, domain.TranscriptionRequest{
		Filename: filepath.Base(flags.Audio),
		Audio:    audio,
		Model:    cfg.Transcription.Model,
		Language: cfg.Transcription.Language,
	})
	if err != nil {
		return err
	}
	fmt.Println(text)
	return nil
}

// readPrompt joins args, falling back to stdin.
func readPrompt(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", domain.NewDomainError("prompt", domain.ErrInvalidInput, "empty prompt")
	}
	return prompt, nil
}

// runEncrypt prints an "enc:" value for config.yaml.
func runEncrypt(args []string) error {
	passphrase := os.Getenv("SCRIBEAI_CONFIG_KEY")
	if passphrase == "" {
		return fmt.Errorf("SCRIBEAI_CONFIG_KEY is not set")
	}
	if len(args) != 1 {
		return fmt.Errorf("usage: scribe encrypt VALUE")
	}
	enc, err := config.EncryptValue(args[0], passphrase)
	if err != nil {
		return err
	}
	fmt.Println("enc:" + enc)
	return nil
}
