// cmd/libctl/commands.go
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"libralend/internal/auth"
	"libralend/internal/chaos"
	"libralend/internal/clients"
	"libralend/internal/observability"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "libctl",
		Short:         "Operator tooling for the lending API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newHashCredentialCmd(), newGameDayCmd())
	return root
}

func newHashCredentialCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-credential NAME",
		Short: "Hash a password into a LIBRALEND_CREDENTIALS entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := strings.TrimSpace(args[0])
			if name == "" || strings.ContainsAny(name, ":,") {
				return fmt.Errorf("credential name %q must be non-empty and free of ':' and ','", args[0])
			}

			password, err := readPassword(cmd.InOrStdin(), cmd.ErrOrStderr(), "Password: ")
			if err != nil {
				return err
			}
			if password == "" {
				return errors.New("empty password")
			}

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s:%s\n", name, hash)
			return nil
		},
	}
}

type gameDayOptions struct {
	url         string
	user        string
	copies      int
	concurrency int
	returns     int
	duration    time.Duration
	interval    time.Duration
	pause       time.Duration
	logLevel    string
}

func newGameDayCmd() *cobra.Command {
	opts := gameDayOptions{}
	cmd := &cobra.Command{
		Use:   "gameday",
		Short: "Run inventory consistency experiments against a running lending API",
		Long: "Runs concurrent borrows of the last copies and returns without a matching borrow " +
			"against the API, checking that shelf counts and lending records stay consistent.\n" +
			"The password is read from LIBRALEND_PASSWORD or prompted for.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGameDay(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.url, "url", "http://localhost:8080", "base URL of the lending API")
	f.StringVar(&opts.user, "user", "", "credential name for HTTP Basic auth")
	f.IntVar(&opts.copies, "copies", 3, "copies of each experiment title")
	f.IntVar(&opts.concurrency, "concurrency", 100, "simultaneous borrows in the race experiment")
	f.IntVar(&opts.returns, "returns", 10, "returns attempted without a borrow")
	f.DurationVar(&opts.duration, "duration", 5*time.Second, "observation window per experiment")
	f.DurationVar(&opts.interval, "interval", time.Second, "metric sampling interval")
	f.DurationVar(&opts.pause, "pause", 5*time.Second, "wait between experiments")
	f.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	return cmd
}

func runGameDay(cmd *cobra.Command, opts gameDayOptions) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	logger, err := observability.NewLogger(opts.logLevel, "console")
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	var clientOpts []clients.Option
	if opts.user != "" {
		password, ok := os.LookupEnv("LIBRALEND_PASSWORD")
		if !ok {
			if password, err = readPassword(cmd.InOrStdin(), cmd.ErrOrStderr(), "Password: "); err != nil {
				return err
			}
		}
		clientOpts = append(clientOpts, clients.WithBasicAuth(opts.user, password))
	}
	client := clients.NewLendingClient(opts.url, clientOpts...)
	if err := client.Healthy(ctx); err != nil {
		return fmt.Errorf("lending API at %s is not healthy: %w", opts.url, err)
	}

	engine := chaos.NewEngine(
		chaos.WithLogger(logger),
		chaos.WithSampleInterval(opts.interval),
		chaos.WithPause(opts.pause),
	)
	engine.RegisterLendingExperiments(client, chaos.ExperimentConfig{
		Copies:      opts.copies,
		Concurrency: opts.concurrency,
		Returns:     opts.returns,
		Duration:    opts.duration,
	})

	results, err := engine.ExecuteGameDay(ctx, chaos.GameDay{
		Name:      "Inventory consistency game day",
		Date:      time.Now(),
		Scenarios: engine.Experiments(),
	}, cmd.OutOrStdout())
	if err != nil {
		return err
	}

	held := 0
	for _, r := range results {
		if r.HypothesisHeld {
			held++
		}
	}
	if held != len(engine.Experiments()) {
		return fmt.Errorf("%d of %d experiments held their hypothesis", held, len(engine.Experiments()))
	}
	return nil
}

// readPassword masks input on a terminal and reads one line otherwise.
func readPassword(in io.Reader, prompt io.Writer, label string) (string, error) {
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(prompt, label)
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(prompt)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimSpace(line), nil
}
