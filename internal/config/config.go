package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath = "config.toml"
	DefaultHTTPAddr   = ":8080"

	DefaultRequirementField = "需求内容"
	DefaultStatusField      = "验收状态"
	DefaultAttachmentField  = "验收附件"
	DefaultDevStatusField   = "开发状态"
	DefaultLinkField        = "验收文档"
	DefaultAcceptedValue    = "验收通过"
	DefaultDoneValue        = "已完成"

	DefaultStalenessSeconds = 300
	DefaultDedupCapacity    = 1000

	RegionFeishu = "feishu"
	RegionLark   = "lark"

	InboundModeWebsocket = "websocket"
	InboundModeWebhook   = "webhook"
)

type Config struct {
	Log      LogConfig       `toml:"log"`
	Server   ServerConfig    `toml:"server"`
	Feishu   FeishuConfig    `toml:"feishu" validate:"required"`
	Table    TableConfig     `toml:"table"`
	Accept   AcceptConfig    `toml:"accept"`
	Projects []ProjectConfig `toml:"projects" validate:"required,min=1,dive"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

// FeishuConfig holds the Lark app credentials and transport selection.
// Region chooses the API base URL (feishu.cn vs larksuite.com); inbound mode
// chooses websocket long-connection or webhook callback delivery.
type FeishuConfig struct {
	AppID             string `toml:"app_id" validate:"required"`
	AppSecret         string `toml:"app_secret" validate:"required"`
	VerificationToken string `toml:"verification_token"`
	EncryptKey        string `toml:"encrypt_key"`
	Region            string `toml:"region"`
	InboundMode       string `toml:"inbound_mode"`
}

// TableConfig names the bitable columns the bot reads and writes, plus the
// fixed values written on acceptance.
type TableConfig struct {
	RequirementField string   `toml:"requirement_field"`
	StatusField      string   `toml:"status_field"`
	AttachmentField  string   `toml:"attachment_field"`
	DevStatusField   string   `toml:"dev_status_field"`
	LinkField        string   `toml:"link_field"`
	AcceptedValue    string   `toml:"accepted_value"`
	DoneValue        string   `toml:"done_value"`
	LinkHosts        []string `toml:"link_hosts"`
}

type AcceptConfig struct {
	StalenessSeconds int `toml:"staleness_seconds" validate:"min=0"`
	DedupCapacity    int `toml:"dedup_capacity" validate:"min=1"`
}

type ProjectConfig struct {
	Name     string   `toml:"name" validate:"required"`
	AppToken string   `toml:"app_token" validate:"required"`
	TableID  string   `toml:"table_id" validate:"required"`
	ChatIDs  []string `toml:"chat_ids"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Table: TableConfig{
			RequirementField: DefaultRequirementField,
			StatusField:      DefaultStatusField,
			AttachmentField:  DefaultAttachmentField,
			DevStatusField:   DefaultDevStatusField,
			LinkField:        DefaultLinkField,
			AcceptedValue:    DefaultAcceptedValue,
			DoneValue:        DefaultDoneValue,
			LinkHosts:        []string{"feishu.cn", "larksuite.com"},
		},
		Accept: AcceptConfig{
			StalenessSeconds: DefaultStalenessSeconds,
			DedupCapacity:    DefaultDedupCapacity,
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks structural constraints that the TOML decoder cannot express.
func (c Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return err
	}
	seen := make(map[string]string, len(c.Projects))
	for _, p := range c.Projects {
		key := strings.ToLower(strings.TrimSpace(p.Name))
		if prior, ok := seen[key]; ok {
			return fmt.Errorf("duplicate project name: %q collides with %q", p.Name, prior)
		}
		seen[key] = p.Name
	}
	switch strings.ToLower(strings.TrimSpace(c.Feishu.Region)) {
	case "", RegionFeishu, "cn", "china", RegionLark, "global", "intl", "international":
	default:
		return fmt.Errorf("feishu region must be feishu or lark")
	}
	switch strings.ToLower(strings.TrimSpace(c.Feishu.InboundMode)) {
	case "", InboundModeWebsocket, InboundModeWebhook:
	default:
		return fmt.Errorf("feishu inbound_mode must be websocket or webhook")
	}
	return nil
}

// NormalizedRegion collapses region aliases onto feishu or lark.
func (f FeishuConfig) NormalizedRegion() string {
	switch strings.ToLower(strings.TrimSpace(f.Region)) {
	case RegionLark, "global", "intl", "international":
		return RegionLark
	default:
		return RegionFeishu
	}
}

// NormalizedInboundMode defaults the inbound mode to websocket.
func (f FeishuConfig) NormalizedInboundMode() string {
	if strings.ToLower(strings.TrimSpace(f.InboundMode)) == InboundModeWebhook {
		return InboundModeWebhook
	}
	return InboundModeWebsocket
}
