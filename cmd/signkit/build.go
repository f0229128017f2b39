package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"pangea.dev/signkit/cidutil"
	"pangea.dev/signkit/config"
	"pangea.dev/signkit/distribute"
	"pangea.dev/signkit/signer"
)

const defaultBuildFile = "dapp_build.json"

// buildFlags are shared by build and stream.
type buildFlags struct {
	manifest string
	code     string
	icon     string
	password string
}

func (f *buildFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&f.manifest, "manifest", "", "Project manifest JSON with name, engine and version")
	flags.StringVar(&f.code, "code", "", "Bundled code file")
	flags.StringVar(&f.icon, "icon", "", "Icon file (optional)")
	flags.StringVar(&f.password, "password", "", "Password of the signing key (falls back to "+envPassword+" or a prompt)")
}

// signBuild assembles and signs the build described by f with the key named
// or stored at keyArg.
func (a *app) signBuild(ctx context.Context, keyArg string, f *buildFlags) (*signer.SignedArtifact, error) {
	if f.manifest == "" || f.code == "" {
		return nil, fmt.Errorf("--manifest and --code are required")
	}
	manifest, err := os.ReadFile(f.manifest)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	code, err := os.ReadFile(f.code)
	if err != nil {
		return nil, fmt.Errorf("read code: %w", err)
	}
	var icon []byte
	if f.icon != "" {
		if icon, err = os.ReadFile(f.icon); err != nil {
			return nil, fmt.Errorf("read icon: %w", err)
		}
	}

	store, err := a.store()
	if err != nil {
		return nil, err
	}
	rec, err := resolveRecord(store, keyArg)
	if err != nil {
		return nil, err
	}
	pw, err := a.secret(f.password, envPassword, "Password")
	if err != nil {
		return nil, err
	}
	key, err := store.Unlock(ctx, rec, pw)
	if err != nil {
		return nil, err
	}
	defer key.Destroy()

	artifact, err := signer.Assemble(manifest, code, icon, key.PublicKey())
	if err != nil {
		return nil, err
	}
	return signer.SignArtifact(artifact, key)
}

func newBuildCmd(a *app) *cobra.Command {
	var (
		f   buildFlags
		out string
	)
	cmd := &cobra.Command{
		Use:   "build FILE|NAME",
		Short: "Sign a build artifact with a signing key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sa, err := a.signBuild(cmd.Context(), args[0], &f)
			if err != nil {
				return err
			}
			data, err := sa.Marshal()
			if err != nil {
				return err
			}
			if out == "-" {
				_, err = fmt.Fprintln(a.out, string(data))
				return err
			}
			if err := os.WriteFile(out, append(data, '\n'), 0o644); err != nil {
				return err
			}
			pub, _ := distribute.ParsePublicKey(sa.UsedSigningKey)
			fmt.Fprintf(a.out, "Wrote %s\n  cid:    %s\n  key id: %s\n", out, cidutil.String(data), signer.KeyID(pub))
			return nil
		},
	}
	f.register(cmd.Flags())
	cmd.Flags().StringVarP(&out, "out", "o", defaultBuildFile, "Output file, or - for stdout")
	return cmd
}

func newStreamCmd(a *app) *cobra.Command {
	var (
		f       buildFlags
		peer    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "stream FILE|NAME",
		Short: "Sign a build artifact and push it to a peer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if peer == "" {
				peer = a.cfg.Peer
			}
			if peer == "" {
				return fmt.Errorf("no peer configured: pass --peer or set %s", config.EnvPeer)
			}
			sa, err := a.signBuild(cmd.Context(), args[0], &f)
			if err != nil {
				return err
			}

			logger := a.logger.WithField("component", "distribute")
			client, err := distribute.Dial(cmd.Context(), peer, distribute.ClientOptions{MaxElapsed: timeout, Log: logger})
			if err != nil {
				return err
			}
			defer client.Close()

			if err := distribute.NewDistributor(client, logger).Distribute(cmd.Context(), sa); err != nil {
				return err
			}
			data, err := sa.Marshal()
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Streamed artifact %s to %s\n", cidutil.String(data), peer)
			return nil
		},
	}
	f.register(cmd.Flags())
	cmd.Flags().StringVar(&peer, "peer", "", "Peer multiaddr, e.g. /ip4/127.0.0.1/tcp/7777 (default from config)")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Give up connecting to the peer after this long")
	return cmd
}

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify ARTIFACT",
		Short: "Check the signature of a signed build artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			sa, err := signer.ParseSignedArtifact(data)
			if err != nil {
				return err
			}
			if err := signer.VerifyArtifact(sa); err != nil {
				return err
			}
			pub, _ := distribute.ParsePublicKey(sa.UsedSigningKey)
			fmt.Fprintf(a.out, "Signature valid\n  key id:  %s\n  version: %d\n", signer.KeyID(pub), sa.Version)
			return nil
		},
	}
}
