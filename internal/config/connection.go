package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"hibot-harvest/internal/hibot"
	"hibot-harvest/internal/logx"
)

// ErrTokenExpired 表示 Bearer 令牌已过期；本工具不负责刷新令牌。
var ErrTokenExpired = errors.New("hibot token expired")

// 环境变量覆盖项
const (
	EnvToken   = "HIBOT_API_TOKEN"
	EnvBaseURL = "HIBOT_BASE_URL"
	EnvReports = "HIBOT_CORE_REPORTS"
	EnvTenant  = "HIBOT_TENANT_ID"
	EnvZone    = "HIBOT_ZONE_ID"
)

var validate = validator.New()

// LoadDotEnv 加载 .env（不存在时忽略）；已有环境变量不被覆盖。
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			logx.Warnf("加载 %s 失败：%v", p, err)
		}
	}
}

// ResolveConnection 依次合并 Postman 环境、Postman 集合与环境变量，
// 校验字段完整、BaseURL 为绝对地址、令牌未过期。
// baseDir 用于解析 HIBOT 中的相对路径；now 为零值时取当前时间。
func (c *Config) ResolveConnection(baseDir string, now time.Time) (hibot.Connection, error) {
	var conn hibot.Connection
	if p := c.HiBot.Environment; p != "" {
		vals, err := LoadEnvironmentValues(resolvePath(baseDir, p))
		if err != nil {
			return conn, err
		}
		conn.Token = vals["HIBOT_API_TOKEN"]
		conn.BaseURL = vals["BASE_URL"]
		conn.ReportsPath = vals["CORE_REPORTS"]
	}
	if p := c.HiBot.Collection; p != "" {
		vars, err := LoadCollectionVariables(resolvePath(baseDir, p))
		if err != nil {
			return conn, err
		}
		conn.TenantID = vars["tenant_id"]
		conn.ZoneID = vars["zone_id"]
	}
	override(&conn.Token, EnvToken)
	override(&conn.BaseURL, EnvBaseURL)
	override(&conn.ReportsPath, EnvReports)
	override(&conn.TenantID, EnvTenant)
	override(&conn.ZoneID, EnvZone)

	if err := validate.Struct(conn); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+"("+fe.Tag()+")")
			}
			return conn, fmt.Errorf("invalid hibot connection: %s", strings.Join(fields, ", "))
		}
		return conn, fmt.Errorf("invalid hibot connection: %w", err)
	}

	if now.IsZero() {
		now = time.Now()
	}
	info, err := hibot.InspectToken(conn.Token)
	if err != nil {
		logx.Warnf("令牌无法解码，跳过过期检查：%v", err)
		return conn, nil
	}
	if info.ExpiresAt.IsZero() {
		logx.Warnf("令牌没有 exp 声明，跳过过期检查")
		return conn, nil
	}
	if info.Expired(now) {
		return conn, fmt.Errorf("%w at %s", ErrTokenExpired, info.ExpiresAt.Format(time.RFC3339))
	}
	return conn, nil
}

func override(dst *string, env string) {
	if v := strings.TrimSpace(os.Getenv(env)); v != "" {
		*dst = v
	}
}

func resolvePath(baseDir, p string) string {
	if filepath.IsAbs(p) || baseDir == "" {
		return p
	}
	return filepath.Join(baseDir, p)
}
