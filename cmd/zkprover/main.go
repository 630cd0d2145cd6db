// Package main provides a CLI tool for the note ownership circuit: it runs the
// PLONK setup and produces or checks ownership proofs.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcq-org/qswap/common"
	"github.com/btcq-org/qswap/hasher"
	"github.com/btcq-org/qswap/note"
	"github.com/btcq-org/qswap/zk"
	"github.com/spf13/cobra"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "zkprover",
		Short: "PLONK setup and ownership proofs for qswap notes",
		Long: `zkprover proves knowledge of the opening of a note commitment:
the amount and secret behind a commitment and its nullifier for a given
recipient, without revealing either.

The ledger checks these proofs when qswapd is started with the verifying key
written by the setup command.`,
	}

	rootCmd.AddCommand(
		setupCmd(),
		proveCmd(),
		verifyCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setupCmd creates the trusted setup command
func setupCmd() *cobra.Command {
	var (
		outputDir   string
		mode        string
		cacheDir    string
		srsPath     string
		lagrangeSRS string
	)

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Generate PLONK trusted setup (proving and verifying keys)",
		Long: `Generate the trusted setup for the ownership circuit using PLONK.

--mode download fetches the Hermez/Polygon Powers of Tau ceremony SRS and
caches it. --mode file reads a gnark SRS and its Lagrange form from disk.
--mode test uses an unsafe SRS and must only be used for development.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			setupMode, err := zk.ParseSetupMode(mode)
			if err != nil {
				return err
			}
			opts := zk.DefaultSetupOptions()
			opts.Mode = setupMode
			if cacheDir != "" {
				opts.CacheDir = cacheDir
			}
			opts.SRSPath = srsPath
			opts.SRSLagrangePath = lagrangeSRS
			if setupMode == zk.SetupModeTest {
				fmt.Println("WARNING: using an UNSAFE test SRS, anyone can forge proofs with these keys")
			}

			fmt.Printf("Generating PLONK setup (%s SRS)...\n", setupMode)
			setup, err := zk.Setup(opts)
			if err != nil {
				return fmt.Errorf("setup failed: %w", err)
			}

			if err := os.MkdirAll(outputDir, 0o755); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}

			setupPath := filepath.Join(outputDir, "setup.bin")
			f, err := os.Create(setupPath)
			if err != nil {
				return fmt.Errorf("failed to create setup file: %w", err)
			}
			if err := zk.SaveSetup(setup, f); err != nil {
				_ = f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return fmt.Errorf("failed to write setup file: %w", err)
			}
			fmt.Printf("Circuit and keys saved to: %s\n", setupPath)

			vkBytes, err := zk.SerializeVerifyingKey(setup.VerifyingKey)
			if err != nil {
				return fmt.Errorf("failed to serialize verifying key: %w", err)
			}
			vkPath := filepath.Join(outputDir, "verifying.key")
			if err := os.WriteFile(vkPath, vkBytes, 0o644); err != nil {
				return fmt.Errorf("failed to write verifying key: %w", err)
			}
			fmt.Printf("Verifying key saved to: %s\n", vkPath)

			vkHexPath := filepath.Join(outputDir, "verifying.key.hex")
			if err := os.WriteFile(vkHexPath, []byte(hex.EncodeToString(vkBytes)), 0o644); err != nil {
				return fmt.Errorf("failed to write verifying key hex: %w", err)
			}
			fmt.Printf("Verifying key (hex) saved to: %s\n", vkHexPath)

			fmt.Println("\nSetup complete!")
			fmt.Println("Point qswap's zk_setup at setup.bin and start qswapd with --verifying-key verifying.key.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputDir, "output", "o", "./zk-setup", "Output directory for setup files")
	cmd.Flags().StringVar(&mode, "mode", "download", "SRS source: download, file or test")
	cmd.Flags().StringVar(&cacheDir, "cache-dir", "", "Directory for cached SRS files (default ~/.qswap/zk-cache)")
	cmd.Flags().StringVar(&srsPath, "srs", "", "SRS file for --mode file")
	cmd.Flags().StringVar(&lagrangeSRS, "srs-lagrange", "", "Lagrange SRS file for --mode file")

	return cmd
}

// ProofOutput is what the prove command prints.
type ProofOutput struct {
	Commitment common.Felt `json:"commitment"`
	Nullifier  common.Felt `json:"nullifier"`
	Recipient  common.Felt `json:"recipient"`
	Proof      string      `json:"proof"`
}

// proveCmd creates the proof generation command
func proveCmd() *cobra.Command {
	var (
		setupPath string
		amount    string
		recipient string
		secret    string
	)

	cmd := &cobra.Command{
		Use:   "prove",
		Short: "Prove ownership of a note",
		Long: `Compute the commitment and nullifier of a note with the built-in MiMC
hasher and prove knowledge of its amount and secret.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			amt, err := common.ParseAmount(amount)
			if err != nil {
				return err
			}
			to, err := common.ParseFelt(recipient)
			if err != nil {
				return fmt.Errorf("invalid recipient: %w", err)
			}
			sec, err := common.ParseFelt(secret)
			if err != nil {
				return fmt.Errorf("invalid secret: %w", err)
			}
			d, err := note.Derive(context.Background(), hasher.NewMiMC(), amt, to, sec)
			if err != nil {
				return err
			}

			fmt.Fprintln(os.Stderr, "Loading circuit and proving key...")
			setup, err := zk.LoadSetupFile(setupPath)
			if err != nil {
				return err
			}
			fmt.Fprintln(os.Stderr, "Generating proof...")
			proof, err := zk.ProverFromSetup(setup).ProveOwnership(amt, to, sec, d.Commitment, d.Nullifier)
			if err != nil {
				return fmt.Errorf("failed to generate proof: %w", err)
			}

			out, err := json.MarshalIndent(ProofOutput{
				Commitment: d.Commitment,
				Nullifier:  d.Nullifier,
				Recipient:  to,
				Proof:      hex.EncodeToString(proof),
			}, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&setupPath, "setup", "./zk-setup/setup.bin", "Setup file written by the setup command")
	cmd.Flags().StringVar(&amount, "amount", "", "Note amount")
	cmd.Flags().StringVar(&recipient, "recipient", "", "Recipient identity felt")
	cmd.Flags().StringVar(&secret, "secret", "", "Note secret felt")
	_ = cmd.MarkFlagRequired("amount")
	_ = cmd.MarkFlagRequired("recipient")
	_ = cmd.MarkFlagRequired("secret")

	return cmd
}

// verifyCmd checks a proof printed by the prove command
func verifyCmd() *cobra.Command {
	var vkPath string

	cmd := &cobra.Command{
		Use:   "verify <proof.json>",
		Short: "Verify an ownership proof against the verifying key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read proof: %w", err)
			}
			var in ProofOutput
			if err := json.Unmarshal(raw, &in); err != nil {
				return fmt.Errorf("failed to parse proof: %w", err)
			}
			proof, err := hex.DecodeString(in.Proof)
			if err != nil {
				return fmt.Errorf("failed to decode proof: %w", err)
			}
			vkBytes, err := os.ReadFile(vkPath)
			if err != nil {
				return fmt.Errorf("failed to read verifying key: %w", err)
			}
			verifier, err := zk.NewVerifierFromBytes(vkBytes)
			if err != nil {
				return err
			}
			if err := verifier.VerifyOwnership(proof, in.Commitment, in.Nullifier, in.Recipient); err != nil {
				return err
			}
			fmt.Println("Proof is valid")
			return nil
		},
	}

	cmd.Flags().StringVar(&vkPath, "verifying-key", "./zk-setup/verifying.key", "Verifying key file")
	return cmd
}
