package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Mist54/GenTemplate/internal/config"
)

// newInitConfigCmd 在目录中生成默认配置与 .env 模板；已存在的文件跳过，不覆盖。
func newInitConfigCmd(stdout, stderr io.Writer) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "init-config [dir]",
		Short: "Write a template config and .env into dir (default: current directory)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			dir := "."
			if len(args) == 1 {
				dir = args[0]
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return asConfigError(err)
			}
			body, name, err := renderTemplate(format)
			if err != nil {
				return asConfigError(err)
			}
			for _, f := range []struct {
				path string
				body []byte
			}{
				{filepath.Join(dir, name), body},
				{filepath.Join(dir, ".env"), []byte(config.EnvTemplate)},
			} {
				created, err := writeNew(f.path, f.body)
				if err != nil {
					return asConfigError(err)
				}
				if created {
					fmt.Fprintf(stdout, "已生成 %s\n", f.path)
				} else {
					fmt.Fprintf(stderr, "已存在，跳过 %s\n", f.path)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "配置格式 json|yaml")
	return cmd
}

func renderTemplate(format string) ([]byte, string, error) {
	b, err := json.MarshalIndent(config.DefaultTemplateConfig(), "", "  ")
	if err != nil {
		return nil, "", err
	}
	switch format {
	case "json":
		return append(b, '\n'), "config.json", nil
	case "yaml", "yml":
		var doc map[string]any
		if err := json.Unmarshal(b, &doc); err != nil {
			return nil, "", err
		}
		y, err := yaml.Marshal(doc)
		if err != nil {
			return nil, "", err
		}
		return y, "config.yaml", nil
	default:
		return nil, "", fmt.Errorf("unknown format %q", format)
	}
}

// writeNew 以 O_EXCL 创建文件；已存在时返回 (false, nil)。
func writeNew(path string, body []byte) (bool, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return false, nil
		}
		return false, err
	}
	if _, err := f.Write(body); err != nil {
		f.Close()
		return false, err
	}
	return true, f.Close()
}
