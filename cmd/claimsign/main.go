// Command claimsign signs reward grants with the issuer key held in an
// encrypted keystore.
package main

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"os"
	"strings"

	"golang.org/x/term"

	"securepay/crypto"
	"securepay/native/bank"
	"securepay/native/rewards"
	"securepay/observability/logging"
)

const passphraseEnv = "SECUREPAY_KEYSTORE_PASS"

type grant struct {
	Issuer    string `json:"issuer"`
	Account   string `json:"account"`
	Amount    string `json:"amount"`
	Nonce     string `json:"nonce"`
	DomainID  uint64 `json:"domainId"`
	Signature string `json:"signature"`
}

func main() {
	logger := logging.Setup("claimsign", "", logging.WithWriter(os.Stderr), logging.WithLevel(logging.ParseLevel(os.Getenv("SECUREPAY_LOG_LEVEL"))))
	if err := run(os.Args[1:], os.Stdout, logger, readPassphrase); err != nil {
		fmt.Fprintf(os.Stderr, "claimsign: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer, logger *slog.Logger, passphrase func() (string, error)) error {
	if logger == nil {
		logger = slog.Default()
	}
	fs := flag.NewFlagSet("claimsign", flag.ContinueOnError)
	var (
		keystorePath string
		account      string
		amountRaw    string
		nonceRaw     string
		domainID     uint64
		newKey       bool
	)
	fs.StringVar(&keystorePath, "keystore", "./issuer.keystore", "issuer keystore path")
	fs.StringVar(&account, "account", "", "recipient account (hex or bech32)")
	fs.StringVar(&amountRaw, "amount", "", "grant amount in base units")
	fs.StringVar(&nonceRaw, "nonce", "", "32-byte hex nonce (random when empty)")
	fs.Uint64Var(&domainID, "domain", 0, "deployment domain id")
	fs.BoolVar(&newKey, "new-key", false, "generate a new issuer keystore and print its address")
	if err := fs.Parse(args); err != nil {
		return err
	}

	pass, err := passphrase()
	if err != nil {
		return fmt.Errorf("read passphrase: %w", err)
	}

	if newKey {
		key, err := crypto.GeneratePrivateKey()
		if err != nil {
			return err
		}
		if err := crypto.SaveToKeystore(keystorePath, key, pass); err != nil {
			return err
		}
		logger.Info("issuer keystore created", slog.String("keystore", keystorePath), slog.String("issuer", key.Address().Hex()))
		_, err = fmt.Fprintf(out, "%s %s\n", key.Address().Hex(), crypto.DisplayAddress(key.Address()))
		return err
	}

	recipient, err := crypto.ParseAddress(account)
	if err != nil {
		return fmt.Errorf("account: %w", err)
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(amountRaw), 10)
	if !ok || amount.Sign() <= 0 {
		return errors.New("amount must be a positive base-10 integer")
	}
	nonce, err := parseNonce(nonceRaw)
	if err != nil {
		return err
	}
	key, err := crypto.LoadFromKeystore(keystorePath, pass)
	if err != nil {
		return err
	}
	digest, err := rewards.ClaimDigest(recipient, amount, nonce, domainID, bank.ModuleAccount("rewards"))
	if err != nil {
		return err
	}
	sig, err := crypto.Sign(key, digest)
	if err != nil {
		return err
	}
	signed := grant{
		Issuer:    key.Address().Hex(),
		Account:   recipient.Hex(),
		Amount:    amount.String(),
		Nonce:     "0x" + hex.EncodeToString(nonce[:]),
		DomainID:  domainID,
		Signature: "0x" + hex.EncodeToString(sig),
	}
	logger.Info("grant signed",
		slog.String("issuer", signed.Issuer),
		slog.String("account", signed.Account),
		slog.String("amount", signed.Amount),
		slog.String("nonce", signed.Nonce),
		slog.Uint64("domain", domainID),
		logging.MaskField("signature", signed.Signature))
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(signed)
}

func parseNonce(raw string) ([32]byte, error) {
	var nonce [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), "0x")
	if trimmed == "" {
		if _, err := rand.Read(nonce[:]); err != nil {
			return nonce, err
		}
		return nonce, nil
	}
	decoded, err := hex.DecodeString(trimmed)
	if err != nil || len(decoded) != len(nonce) {
		return nonce, errors.New("nonce must be 32 hex-encoded bytes")
	}
	copy(nonce[:], decoded)
	return nonce, nil
}

func readPassphrase() (string, error) {
	if pass, ok := os.LookupEnv(passphraseEnv); ok {
		return pass, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("set %s or run from a terminal", passphraseEnv)
	}
	fmt.Fprint(os.Stderr, "Keystore passphrase: ")
	pass, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return string(pass), nil
}
