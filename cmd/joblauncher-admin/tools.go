package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/target/job-launcher/internal/domain/funding"
	"github.com/target/job-launcher/internal/domain/signature"
)

func feeCmd(cc *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "fee <amount>",
		Short: "Show the fee breakdown for a whole-token fund amount using the configured rates",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			rates, err := cc.Config.Fees.Rates()
			if err != nil {
				return err
			}
			b, err := funding.FromDecimal(args[0], rates)
			if err != nil {
				return err
			}
			v := newFeeView(b)
			if cc.JSON {
				return printJSON(cc.Out, v)
			}
			renderFee(cc.Out, v)
			return nil
		},
	}
}

type bodyOptions struct {
	Body string
	File string
}

func (o bodyOptions) read(stdin io.Reader) ([]byte, error) {
	switch {
	case o.Body != "" && o.File != "":
		return nil, errors.New("use either --body or --file, not both")
	case o.Body != "":
		return []byte(o.Body), nil
	case o.File == "-":
		return io.ReadAll(stdin)
	case o.File != "":
		return os.ReadFile(o.File)
	default:
		return nil, errors.New("--body or --file is required")
	}
}

func addBodyFlags(cmd *cobra.Command, opts *bodyOptions) {
	cmd.Flags().StringVar(&opts.Body, "body", "", "request body to sign")
	cmd.Flags().StringVar(&opts.File, "file", "", "read the body from a file, or - for stdin")
}

type signatureView struct {
	Signature string `json:"signature"`
	Address   string `json:"address"`
}

func signCmd(cc *commandContext) *cobra.Command {
	var (
		body bodyOptions
		key  string
	)
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign a webhook body the way oracles do, for testing signed endpoints",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload, err := body.read(cmd.InOrStdin())
			if err != nil {
				return err
			}
			if strings.TrimSpace(key) == "" {
				key = cc.Config.Chain.SignerPrivateKey
			}
			pk, err := signature.ParsePrivateKey(key)
			if err != nil {
				return err
			}
			sig, err := signature.Sign(payload, pk)
			if err != nil {
				return err
			}
			addr, err := signature.ResolveAddress(key)
			if err != nil {
				return err
			}
			v := signatureView{Signature: sig, Address: addr.Hex()}
			if cc.JSON {
				return printJSON(cc.Out, v)
			}
			return writef(cc.Out, "%s: %s\nsigner: %s\n", cc.Config.Signature.Header, v.Signature, v.Address)
		},
	}
	addBodyFlags(cmd, &body)
	cmd.Flags().StringVar(&key, "key", "", "hex private key (defaults to WEB3_PRIVATE_KEY)")
	return cmd
}

func verifyCmd(cc *commandContext) *cobra.Command {
	var (
		body bodyOptions
		sig  string
		path string
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Recover the signer of a body and check it against the route's expected caller",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			payload, err := body.read(cmd.InOrStdin())
			if err != nil {
				return err
			}
			addr, err := signature.Recover(payload, sig)
			if err != nil {
				return err
			}
			if err := writef(cc.Out, "recovered signer: %s\n", addr.Hex()); err != nil {
				return err
			}
			if path == "" {
				return nil
			}

			rules, err := cc.Config.Signature.Rules()
			if err != nil {
				return err
			}
			family, err := rules.Classify(path)
			if err != nil {
				return err
			}
			want, ok := cc.Config.SignerKeys()[family]
			if !ok {
				return fmt.Errorf("no signer configured for %s", family)
			}
			expected, err := signature.ResolveAddress(want)
			if err != nil {
				return err
			}
			if err := signature.Verify(payload, sig, expected); err != nil {
				return fmt.Errorf("%s expects %s: %w", family, expected.Hex(), err)
			}
			return writef(cc.Out, "valid for %s\n", family)
		},
	}
	addBodyFlags(cmd, &body)
	cmd.Flags().StringVar(&sig, "signature", "", "hex signature from the request header")
	cmd.Flags().StringVar(&path, "path", "", "request path used to pick the expected caller")
	_ = cmd.MarkFlagRequired("signature")
	return cmd
}
