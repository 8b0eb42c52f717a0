package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"aldar.app/internal/auth"
	"aldar.app/internal/codec"
	"aldar.app/internal/config"
	"aldar.app/internal/obs"
)

// smoke sends one encrypted, authenticated request through the full pipeline
// and prints the decrypted answer.
func main() {
	obs.Init()
	log := obs.Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	fs := pflag.NewFlagSet("smoke", pflag.ExitOnError)
	base := fs.String("base-url", "http://localhost"+cfg.HTTP.Addr, "API base URL")
	sessionToken := fs.String("session", os.Getenv("ALDAR_SMOKE_SESSION"), "session token of a test member")
	txType := fs.String("transaction-type", "all", "transaction_type argument")
	timeout := fs.Duration("timeout", 10*time.Second, "overall timeout")
	_ = fs.Parse(os.Args[1:])

	if *sessionToken == "" {
		log.Fatal().Msg("--session is required")
	}

	cdc, err := codec.New(cfg.Codec.Key, cfg.Codec.Salt, cfg.Codec.Mode)
	if err != nil {
		log.Fatal().Err(err).Msg("codec")
	}
	jwtToken, err := auth.NewDecoder(cfg.JWT.Secret, cfg.Company).Issue(*sessionToken, 5*time.Minute)
	if err != nil {
		log.Fatal().Err(err).Msg("issue jwt")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	client := &http.Client{}
	if err := health(ctx, client, *base); err != nil {
		log.Fatal().Err(err).Msg("healthz")
	}

	params := cdc.EncodeJSON(map[string]any{"transaction_type": *txType})
	body, _ := json.Marshal(map[string]string{"params": params})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(*base, "/")+"/v1/lms/transactions", bytes.NewReader(body))
	if err != nil {
		log.Fatal().Err(err).Msg("build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+jwtToken)

	resp, err := client.Do(req)
	if err != nil {
		log.Fatal().Err(err).Msg("transactions")
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Fatal().Err(err).Msg("read response")
	}

	out, err := decodeAnswer(cdc, raw)
	if err != nil {
		log.Fatal().Err(err).Int("status", resp.StatusCode).Msg("decode response")
	}
	pretty, _ := json.MarshalIndent(out, "", "  ")
	fmt.Printf("status %d\n%s\n", resp.StatusCode, pretty)
	if resp.StatusCode >= 300 {
		os.Exit(1)
	}
}

func health(ctx context.Context, client *http.Client, base string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(base, "/")+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}

// decodeAnswer accepts either a plain envelope or an encrypted one (a JSON string).
func decodeAnswer(cdc *codec.Codec, raw []byte) (map[string]any, error) {
	var sealed string
	if err := json.Unmarshal(raw, &sealed); err == nil {
		return cdc.DecodeParams(sealed)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
