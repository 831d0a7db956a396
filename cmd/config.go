package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/url"
	"sort"
	"strings"

	"github.com/blnkfinance/intake/config"
	"github.com/spf13/cobra"
)

const masked = "********"

// redactConfig returns a copy of cfg with credentials masked.
func redactConfig(cfg config.Configuration) config.Configuration {
	mask := func(s string) string {
		if s == "" {
			return s
		}
		return masked
	}

	cfg.Server.SecretKey = mask(cfg.Server.SecretKey)
	cfg.ObjectStore.AccessKeyID = mask(cfg.ObjectStore.AccessKeyID)
	cfg.ObjectStore.SecretAccessKey = mask(cfg.ObjectStore.SecretAccessKey)
	cfg.Notification.Slack.WebhookUrl = mask(cfg.Notification.Slack.WebhookUrl)
	cfg.DataSource.Dns = redactDSN(cfg.DataSource.Dns)
	cfg.Redis.Dns = redactDSN(cfg.Redis.Dns)
	if len(cfg.Analysis.Headers) > 0 {
		headers := make(map[string]string, len(cfg.Analysis.Headers))
		for k := range cfg.Analysis.Headers {
			headers[k] = masked
		}
		cfg.Analysis.Headers = headers
	}
	return cfg
}

// redactDSN masks the password of a URL style connection string.
func redactDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil || u.User == nil {
		return dsn
	}
	if _, ok := u.User.Password(); !ok {
		return dsn
	}
	u.User = url.UserPassword(u.User.Username(), masked)
	return u.String()
}

// renderConfig prints the redacted configuration, or one top level section
// of it such as "import" or "retry".
func renderConfig(cfg *config.Configuration, section string) ([]byte, error) {
	redacted := redactConfig(*cfg)
	if section == "" {
		return json.MarshalIndent(redacted, "", "    ")
	}

	raw, err := json.Marshal(redacted)
	if err != nil {
		return nil, err
	}
	sections := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &sections); err != nil {
		return nil, err
	}
	part, ok := sections[section]
	if !ok {
		names := make([]string, 0, len(sections))
		for name := range sections {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown config section %q. pick one of: %s", section, strings.Join(names, ", "))
	}

	var v interface{}
	if err := json.Unmarshal(part, &v); err != nil {
		return nil, err
	}
	return json.MarshalIndent(v, "", "    ")
}

func configCommands() *cobra.Command {
	var section string
	cmd := &cobra.Command{
		Use:   "config",
		Short: "print the effective intake configuration with credentials masked",
		Run: func(cmd *cobra.Command, args []string) {
			cfg, err := config.Fetch()
			if err != nil {
				log.Fatalf("Error getting config: %v\n", err)
			}

			data, err := renderConfig(cfg, section)
			if err != nil {
				log.Fatalf("Error printing config: %v\n", err)
			}

			fmt.Println(string(data))
		},
	}
	cmd.Flags().StringVar(&section, "section", "", "print one section only, e.g. import or retry")
	return cmd
}
