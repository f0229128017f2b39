package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"pangea.dev/signkit/keystore"
	"pangea.dev/signkit/signer"
)

func newKeyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Create, rotate and inspect signing keys",
	}
	cmd.AddCommand(
		newKeyNewCmd(a),
		newKeyPasswdCmd(a),
		newKeyValidateCmd(a),
		newKeyHistoryCmd(a),
		newKeyBackupCmd(a),
		newKeyRestoreCmd(a),
		newKeyCalibrateCmd(a),
	)
	return cmd
}

func newKeyNewCmd(a *app) *cobra.Command {
	var name, password, confirm string
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Generate a new signing key encrypted with a password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			pw, pwConfirm, err := a.newSecret(password, confirm, envPassword, "Password")
			if err != nil {
				return err
			}
			store, err := a.store()
			if err != nil {
				return err
			}
			rec, path, err := store.Create(cmd.Context(), name, pw, pwConfirm)
			if err != nil {
				return err
			}
			return a.printPersisted(rec, path)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Name of the signing key (letters, digits, '-' and '_')")
	cmd.Flags().StringVar(&password, "password", "", "Password (falls back to "+envPassword+" or a prompt)")
	cmd.Flags().StringVar(&confirm, "password-confirm", "", "Password confirmation")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newKeyPasswdCmd(a *app) *cobra.Command {
	var oldPassword, newPassword, confirm string
	cmd := &cobra.Command{
		Use:   "passwd FILE|NAME",
		Short: "Re-encrypt a signing key under a new password as the next version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.store()
			if err != nil {
				return err
			}
			rec, err := resolveRecord(store, args[0])
			if err != nil {
				return err
			}
			oldPw, err := a.secret(oldPassword, envPassword, "Current password")
			if err != nil {
				return err
			}
			newPw, newConfirm, err := a.newSecret(newPassword, confirm, envNewPassword, "New password")
			if err != nil {
				return err
			}
			next, path, err := store.Rotate(cmd.Context(), rec, oldPw, newPw, newConfirm)
			if err != nil {
				return err
			}
			return a.printPersisted(next, path)
		},
	}
	cmd.Flags().StringVar(&oldPassword, "old-password", "", "Current password (falls back to "+envPassword+" or a prompt)")
	cmd.Flags().StringVar(&newPassword, "new-password", "", "New password (falls back to "+envNewPassword+" or a prompt)")
	cmd.Flags().StringVar(&confirm, "new-password-confirm", "", "New password confirmation")
	return cmd
}

func newKeyValidateCmd(a *app) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "validate FILE|NAME",
		Short: "Check that a password opens a signing key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.store()
			if err != nil {
				return err
			}
			rec, err := resolveRecord(store, args[0])
			if err != nil {
				return err
			}
			pw, err := a.secret(password, envPassword, "Password")
			if err != nil {
				return err
			}
			ok, err := store.Validate(cmd.Context(), rec, pw)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("password does not open signing key %s (version %s)", rec.Name, rec.Version)
			}
			fmt.Fprintf(a.out, "Signing key %s (version %s) is valid\n", rec.Name, rec.Version)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "Password (falls back to "+envPassword+" or a prompt)")
	return cmd
}

func newKeyHistoryCmd(a *app) *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List every stored version of a signing key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := a.store()
			if err != nil {
				return err
			}
			hist, err := store.History(name)
			if err != nil {
				return err
			}
			if len(hist) == 0 {
				return fmt.Errorf("no signing key named %s in %s", name, store.Dir())
			}
			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "VERSION\tCREATED\tKEY ID\tFILE")
			for _, rec := range hist {
				pub, _ := rec.PublicKeyBytes()
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
					rec.Version,
					time.Unix(rec.CreatedAt, 0).UTC().Format(time.RFC3339),
					signer.KeyID(pub),
					store.Path(rec))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Name of the signing key")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newKeyBackupCmd(a *app) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "backup FILE|NAME",
		Short: "Print the 24-word recovery phrase of a signing key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.store()
			if err != nil {
				return err
			}
			rec, err := resolveRecord(store, args[0])
			if err != nil {
				return err
			}
			pw, err := a.secret(password, envPassword, "Password")
			if err != nil {
				return err
			}
			phrase, err := store.RecoveryPhrase(cmd.Context(), rec, pw)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.errOut, "Anyone holding this phrase holds the key. Store it offline.")
			fmt.Fprintln(a.out, phrase)
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "Password (falls back to "+envPassword+" or a prompt)")
	return cmd
}

func newKeyRestoreCmd(a *app) *cobra.Command {
	var name, phrase, password, confirm string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Rebuild a signing key from its recovery phrase",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			words, err := a.secret(phrase, envRecoveryPhrase, "Recovery phrase")
			if err != nil {
				return err
			}
			pw, pwConfirm, err := a.newSecret(password, confirm, envPassword, "Password")
			if err != nil {
				return err
			}
			store, err := a.store()
			if err != nil {
				return err
			}
			rec, path, err := store.Restore(cmd.Context(), name, words, pw, pwConfirm)
			if err != nil {
				return err
			}
			return a.printPersisted(rec, path)
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Name for the restored signing key")
	cmd.Flags().StringVar(&phrase, "phrase", "", "Recovery phrase (falls back to "+envRecoveryPhrase+" or a prompt)")
	cmd.Flags().StringVar(&password, "password", "", "Password (falls back to "+envPassword+" or a prompt)")
	cmd.Flags().StringVar(&confirm, "password-confirm", "", "Password confirmation")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func newKeyCalibrateCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "calibrate",
		Short: "Measure the scrypt cost exponent for this machine",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !force {
				fmt.Fprintf(a.out, "scrypt cost exponent: %d\n", a.cfg.CostSource().LogN(cmd.Context()))
				return nil
			}
			c := a.calibrator()
			fmt.Fprintln(a.errOut, "Please wait a moment...")
			logN, err := c.Calibrate(cmd.Context())
			if err != nil {
				return err
			}
			if c.Store != nil {
				if err := c.Store.SaveCost(logN); err != nil {
					return err
				}
			}
			fmt.Fprintf(a.out, "scrypt cost exponent: %d\n", logN)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Ignore the cached value and measure again")
	return cmd
}

// resolveRecord accepts a record file path or a key name; a name resolves
// to its latest version.
func resolveRecord(store *keystore.Store, arg string) (*keystore.Record, error) {
	if strings.HasSuffix(arg, keystore.FileSuffix) || strings.ContainsRune(arg, os.PathSeparator) {
		return store.Load(arg)
	}
	if _, err := os.Stat(arg); err == nil {
		return store.Load(arg)
	}
	return store.Latest(arg)
}

func (a *app) printPersisted(rec *keystore.Record, path string) error {
	pub, err := rec.PublicKeyBytes()
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Persisted your signing key (%s)\n", path)
	fmt.Fprintf(a.out, "  name:    %s\n  version: %s\n  key id:  %s\n", rec.Name, rec.Version, signer.KeyID(pub))
	return nil
}
