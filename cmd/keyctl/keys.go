package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

type keyRecord struct {
	ID          string  `json:"id"`
	AccountID   string  `json:"account_id"`
	Fingerprint string  `json:"fingerprint"`
	Sealer      string  `json:"sealer"`
	Active      bool    `json:"active"`
	CreatedAt   string  `json:"created_at"`
	RevokedAt   *string `json:"revoked_at"`
}

type job struct {
	ID        string     `json:"id"`
	AccountID string     `json:"account_id"`
	Kind      string     `json:"kind"`
	Status    string     `json:"status"`
	Key       *keyRecord `json:"key"`
	Error     string     `json:"error"`
}

type health struct {
	AccountID     string `json:"account_id"`
	State         string `json:"state"`
	HasPublicKey  bool   `json:"has_public_key"`
	HasPrivateKey bool   `json:"has_private_key"`
	KeysMatch     bool   `json:"keys_match"`
	Fingerprint   string `json:"fingerprint"`
	Reason        string `json:"reason"`
}

func accountPath(accountID, suffix string) string {
	return "/v1/accounts/" + url.PathEscape(accountID) + "/keys" + suffix
}

// printResult は --output json の場合は本文をそのまま、それ以外は text を表示する。
func printResult(cmd *cobra.Command, body []byte, v any, text func()) error {
	if output == "json" {
		fmt.Fprintln(cmd.OutOrStdout(), string(body))
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	text()
	return nil
}

func startGeneration(cmd *cobra.Command, suffix, accountID, name, email string, wait bool) error {
	path := accountPath(accountID, suffix)
	want := http.StatusAccepted
	if wait {
		path += "?wait=true"
		want = http.StatusCreated
	}

	body, err := client.do(http.MethodPost, path, map[string]string{"name": name, "email": email}, want)
	if err != nil {
		return err
	}

	if wait {
		var rec keyRecord
		return printResult(cmd, body, &rec, func() {
			fmt.Fprintf(cmd.OutOrStdout(), "Key ready for account %q (fingerprint: %s)\n", rec.AccountID, rec.Fingerprint)
		})
	}
	var j job
	return printResult(cmd, body, &j, func() {
		fmt.Fprintf(cmd.OutOrStdout(), "Key generation started for account %q (job: %s)\n", j.AccountID, j.ID)
	})
}

func generationCmd(use, short, suffix string) *cobra.Command {
	var accountID, name, email string
	var wait bool
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return startGeneration(cmd, suffix, accountID, name, email, wait)
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "Account ID (required)")
	cmd.Flags().StringVar(&name, "name", "", "Display name embedded in the key")
	cmd.Flags().StringVar(&email, "email", "", "Address embedded in the key")
	cmd.Flags().BoolVar(&wait, "wait", false, "Wait until the key is generated")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

// enrollCmd は鍵の登録コマンド。
func enrollCmd() *cobra.Command {
	return generationCmd("enroll", "Generate the first key pair for an account", "")
}

// regenerateCmd は鍵の再生成コマンド。
func regenerateCmd() *cobra.Command {
	return generationCmd("regenerate", "Replace an account's key pair with a new generation", "/regenerate")
}

// healthCmd は鍵の健全性を表示するコマンド。
func healthCmd() *cobra.Command {
	var accountID string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Show key health for an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := client.do(http.MethodGet, accountPath(accountID, "/health"), nil, http.StatusOK)
			if err != nil {
				return err
			}
			var h health
			return printResult(cmd, body, &h, func() { printHealth(cmd, h) })
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "Account ID (required)")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func printHealth(cmd *cobra.Command, h health) {
	fmt.Fprintf(cmd.OutOrStdout(), "Account:     %s\n", h.AccountID)
	fmt.Fprintf(cmd.OutOrStdout(), "State:       %s\n", h.State)
	if h.Fingerprint != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Fingerprint: %s\n", h.Fingerprint)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Public key:  %t\n", h.HasPublicKey)
	fmt.Fprintf(cmd.OutOrStdout(), "Private key: %t\n", h.HasPrivateKey)
	fmt.Fprintf(cmd.OutOrStdout(), "Keys match:  %t\n", h.KeysMatch)
	if h.Reason != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "Reason:      %s\n", h.Reason)
	}
}

// revokeCmd は鍵の失効コマンド。
func revokeCmd() *cobra.Command {
	var accountID string
	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Revoke the active key of an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := client.do(http.MethodDelete, accountPath(accountID, ""), nil, http.StatusAccepted); err != nil {
				return err
			}
			if output == "json" {
				fmt.Fprintln(cmd.OutOrStdout(), "{}")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Revoked key for account %q\n", accountID)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "Account ID (required)")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

// historyCmd は鍵の全世代を表示するコマンド。
func historyCmd() *cobra.Command {
	var accountID string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List all key generations of an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := client.do(http.MethodGet, accountPath(accountID, ""), nil, http.StatusOK)
			if err != nil {
				return err
			}
			var result struct {
				Keys []keyRecord `json:"keys"`
			}
			return printResult(cmd, body, &result, func() { printHistory(cmd, result.Keys) })
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "Account ID (required)")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}

func printHistory(cmd *cobra.Command, keys []keyRecord) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "FINGERPRINT\tSTATUS\tSEALER\tCREATED_AT\tREVOKED_AT")
	for _, k := range keys {
		status, revokedAt := "active", "-"
		if !k.Active {
			status = "revoked"
		}
		if k.RevokedAt != nil {
			revokedAt = *k.RevokedAt
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", k.Fingerprint, status, k.Sealer, k.CreatedAt, revokedAt)
	}
	_ = w.Flush()
}

// jobCmd は鍵生成ジョブの状態を表示するコマンド。
func jobCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "job <job-id>",
		Short: "Show the status of a key generation job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := client.do(http.MethodGet, "/v1/jobs/"+url.PathEscape(args[0]), nil, http.StatusOK)
			if err != nil {
				return err
			}
			var j job
			return printResult(cmd, body, &j, func() {
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s (%s) for account %q: %s\n", j.ID, j.Kind, j.AccountID, j.Status)
				if j.Key != nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Fingerprint: %s\n", j.Key.Fingerprint)
				}
				if j.Error != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "Error: %s\n", j.Error)
				}
			})
		},
	}
}

// diagnoseCmd は運用者向け診断コマンド。
func diagnoseCmd() *cobra.Command {
	var accountID string
	var wipe, rebuild bool
	cmd := &cobra.Command{
		Use:   "diagnose",
		Short: "Inspect, wipe or rebuild the keys of an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			base := "/v1/diagnostics/accounts/" + url.PathEscape(accountID)
			switch {
			case wipe && rebuild:
				return fmt.Errorf("--wipe and --rebuild are mutually exclusive")
			case wipe:
				body, err := client.do(http.MethodPost, base+"/wipe", nil, http.StatusOK)
				if err != nil {
					return err
				}
				var res struct {
					Revoked bool `json:"revoked"`
				}
				return printResult(cmd, body, &res, func() {
					fmt.Fprintf(cmd.OutOrStdout(), "Wiped account %q (revoked: %t)\n", accountID, res.Revoked)
				})
			case rebuild:
				body, err := client.do(http.MethodPost, base+"/rebuild", nil, http.StatusCreated)
				if err != nil {
					return err
				}
				var rec keyRecord
				return printResult(cmd, body, &rec, func() {
					fmt.Fprintf(cmd.OutOrStdout(), "Rebuilt key for account %q (fingerprint: %s)\n", accountID, rec.Fingerprint)
				})
			}

			body, err := client.do(http.MethodGet, base, nil, http.StatusOK)
			if err != nil {
				return err
			}
			var diag struct {
				Health  health      `json:"health"`
				History []keyRecord `json:"history"`
			}
			return printResult(cmd, body, &diag, func() {
				printHealth(cmd, diag.Health)
				fmt.Fprintln(cmd.OutOrStdout())
				printHistory(cmd, diag.History)
			})
		},
	}
	cmd.Flags().StringVar(&accountID, "account", "", "Account ID (required)")
	cmd.Flags().BoolVar(&wipe, "wipe", false, "Revoke the active key")
	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "Regenerate the key and wait for it")
	_ = cmd.MarkFlagRequired("account")
	return cmd
}
