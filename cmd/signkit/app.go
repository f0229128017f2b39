package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"pangea.dev/signkit/config"
	"pangea.dev/signkit/internal/logging"
	"pangea.dev/signkit/kdf"
	"pangea.dev/signkit/keystore"
)

const (
	envPassword       = "SIGNKIT_PASSWORD"
	envNewPassword    = "SIGNKIT_NEW_PASSWORD"
	envRecoveryPhrase = "SIGNKIT_RECOVERY_PHRASE"
	envPrefix         = "SIGNKIT_"
)

// app carries what every command needs. Nothing here is package-level state.
type app struct {
	in     io.Reader
	lines  *bufio.Reader
	out    io.Writer
	errOut io.Writer
	getenv func(string) string

	configPath  string
	keystoreDir string
	logLevel    string
	logFile     string
	kdfLogN     int

	cfg    config.Config
	logger *log.Logger
}

func newApp(in io.Reader, out, errOut io.Writer, getenv func(string) string) *app {
	if getenv == nil {
		getenv = os.Getenv
	}
	return &app{in: in, lines: bufio.NewReader(in), out: out, errOut: errOut, getenv: getenv, logger: log.New()}
}

func (a *app) registerPersistentFlags(flags *pflag.FlagSet) {
	flags.StringVar(&a.configPath, "config", "", "Path to the config file (default ~/.signkit/config.yaml)")
	flags.StringVar(&a.keystoreDir, "keystore-dir", "", "Directory holding signing key records (overrides keystore_dir)")
	flags.StringVar(&a.logLevel, "log-level", "", "Log level: panic, fatal, error, warn, info, debug, trace")
	flags.StringVar(&a.logFile, "log-file", "", "Log file path, or console (default)")
	flags.IntVar(&a.kdfLogN, "kdf-log-n", 0, "Fix the scrypt cost exponent instead of calibrating (1-31)")
}

// setFlagsFromEnv fills unset persistent flags from SIGNKIT_<FLAG_NAME>.
func (a *app) setFlagsFromEnv(flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			return
		}
		name := envPrefix + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		if v := a.getenv(name); v != "" {
			if err := flags.Set(f.Name, v); err != nil {
				a.logger.Infof("unable to configure flag %s using variable %s, err: %v", f.Name, name, err)
			}
		}
	})
}

// setup loads configuration and logging; it runs before every command.
func (a *app) setup(cmd *cobra.Command) error {
	a.setFlagsFromEnv(cmd.Root().PersistentFlags())
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.keystoreDir != "" {
		cfg.KeystoreDir = a.keystoreDir
	}
	if a.kdfLogN != 0 {
		cfg.KDF.LogN = a.kdfLogN
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFile != "" {
		cfg.Log.File = a.logFile
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg
	if err := logging.Setup(a.logger, cfg.Log.Level, cfg.Log.File); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	if cfg.Log.File == "" || cfg.Log.File == "console" {
		a.logger.SetOutput(a.errOut)
	}
	return nil
}

func (a *app) store() (*keystore.Store, error) {
	return keystore.New(a.cfg.KeystoreDir, keystore.Options{
		Cost: a.cfg.CostSource(),
		R:    a.cfg.KDF.R,
		P:    a.cfg.KDF.P,
		Log:  a.logger.WithField("component", "keystore"),
	})
}

func (a *app) calibrator() *kdf.Calibrator {
	var store kdf.CostStore
	if a.cfg.CalibrationCache != "" {
		store = kdf.FileCostStore{Path: a.cfg.CalibrationCache}
	}
	c := kdf.NewCalibrator(store)
	c.Log = a.logger.WithField("component", "kdf")
	return c
}

// secret resolves a secret from its flag, then the environment, then a prompt.
func (a *app) secret(flagValue, env, prompt string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env != "" {
		if v := a.getenv(env); v != "" {
			return v, nil
		}
	}
	return a.prompt(prompt)
}

// newSecret is secret plus a confirmation. A value given by flag or
// environment confirms itself unless confirmFlag is set.
func (a *app) newSecret(flagValue, confirmFlag, env, prompt string) (string, string, error) {
	if flagValue == "" && env != "" {
		flagValue = a.getenv(env)
	}
	if flagValue != "" {
		if confirmFlag == "" {
			confirmFlag = flagValue
		}
		return flagValue, confirmFlag, nil
	}
	pw, err := a.prompt(prompt)
	if err != nil {
		return "", "", err
	}
	confirm, err := a.prompt("Confirm " + strings.ToLower(prompt[:1]) + prompt[1:])
	if err != nil {
		return "", "", err
	}
	return pw, confirm, nil
}

func (a *app) prompt(label string) (string, error) {
	fmt.Fprintf(a.errOut, "%s: ", label)
	if f, ok := a.in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		b, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(a.errOut)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
		}
		return string(b), nil
	}
	line, err := a.lines.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read %s: %w", strings.ToLower(label), err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
