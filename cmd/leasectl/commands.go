package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Anychima/Rent-Flow-sub009/internal/challenge"
	"github.com/Anychima/Rent-Flow-sub009/internal/ethsig"
)

const keyEnvVar = "LEASECTL_KEY"

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "leasectl",
		Short:         "Offline signing tool for lease parties",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		KeygenCmd(),
		AddressCmd(),
		ChallengeCmd(),
		SignCmd(),
		RecoverCmd(),
	)
	return root
}

// KeygenCmd prints a fresh private key and its address.
func KeygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a signing key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := ethsig.GenerateKey()
			if err != nil {
				return fmt.Errorf("generate key: %w", err)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "private_key: %s\n", ethsig.EncodePrivateKey(key))
			fmt.Fprintf(out, "address: %s\n", ethsig.PubkeyToAddress(key.PubKey()).Hex())
			return nil
		},
	}
}

// AddressCmd prints the address of a private key.
func AddressCmd() *cobra.Command {
	var keyHex string
	cmd := &cobra.Command{
		Use:   "address",
		Short: "Print the address of a signing key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := loadKey(keyHex)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ethsig.PubkeyToAddress(key.PubKey()).Hex())
			return nil
		},
	}
	cmd.Flags().StringVar(&keyHex, "key", "", "hex private key (defaults to $"+keyEnvVar+")")
	return cmd
}

// ChallengeCmd prints the exact message a role signs for a terms file.
func ChallengeCmd() *cobra.Command {
	var termsPath, roleName string
	cmd := &cobra.Command{
		Use:   "challenge",
		Short: "Print the challenge for lease terms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := buildChallenge(termsPath, roleName)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, string(msg))
			fmt.Fprintf(out, "digest: %s\n", ethsig.HashMessage(msg).Hex())
			return nil
		},
	}
	termsFlags(cmd, &termsPath, &roleName)
	return cmd
}

// SignCmd signs the challenge for a terms file and prints the signature.
func SignCmd() *cobra.Command {
	var termsPath, roleName, keyHex string
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign the challenge for lease terms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := loadKey(keyHex)
			if err != nil {
				return err
			}
			msg, err := buildChallenge(termsPath, roleName)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ethsig.EncodeSignature(ethsig.Sign(key, msg)))
			return nil
		},
	}
	termsFlags(cmd, &termsPath, &roleName)
	cmd.Flags().StringVar(&keyHex, "key", "", "hex private key (defaults to $"+keyEnvVar+")")
	return cmd
}

// RecoverCmd prints the address that produced a signature over a terms file.
func RecoverCmd() *cobra.Command {
	var termsPath, roleName, sigHex string
	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Recover the signer of a lease signature",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sig, err := ethsig.DecodeSignature(sigHex)
			if err != nil {
				return err
			}
			msg, err := buildChallenge(termsPath, roleName)
			if err != nil {
				return err
			}
			addr, err := ethsig.RecoverAddress(msg, sig)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), addr.Hex())
			return nil
		},
	}
	termsFlags(cmd, &termsPath, &roleName)
	cmd.Flags().StringVar(&sigHex, "signature", "", "hex signature")
	_ = cmd.MarkFlagRequired("signature")
	return cmd
}

func termsFlags(cmd *cobra.Command, termsPath, roleName *string) {
	cmd.Flags().StringVar(termsPath, "terms", "", "YAML file with the lease terms")
	cmd.Flags().StringVar(roleName, "role", "", "LANDLORD or TENANT")
	_ = cmd.MarkFlagRequired("terms")
	_ = cmd.MarkFlagRequired("role")
}

func loadKey(keyHex string) (*secp256k1.PrivateKey, error) {
	if keyHex == "" {
		keyHex = os.Getenv(keyEnvVar)
	}
	if keyHex == "" {
		return nil, errors.New("no key: pass --key or set " + keyEnvVar)
	}
	return ethsig.ParsePrivateKey(keyHex)
}

func buildChallenge(termsPath, roleName string) ([]byte, error) {
	role, err := challenge.ParseRole(roleName)
	if err != nil {
		return nil, err
	}
	terms, err := readTerms(termsPath)
	if err != nil {
		return nil, err
	}
	return challenge.Build(terms, role)
}

func readTerms(path string) (challenge.Terms, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return challenge.Terms{}, fmt.Errorf("read terms: %w", err)
	}
	var terms challenge.Terms
	if err := yaml.Unmarshal(raw, &terms); err != nil {
		return challenge.Terms{}, fmt.Errorf("parse terms: %w", err)
	}
	return terms, nil
}
