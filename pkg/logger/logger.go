package logger

import (
	"io"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Options 日志输出配置
type Options struct {
	Level      string
	Format     string // text | json
	File       string // 为空时只输出到 stdout
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Setup 配置 logrus 标准 logger，返回需要在退出时关闭的文件句柄（可能为 nil）
func Setup(opts Options) (io.Closer, error) {
	level := log.InfoLevel
	if opts.Level != "" {
		parsed, err := log.ParseLevel(strings.TrimSpace(opts.Level))
		if err != nil {
			return nil, err
		}
		level = parsed
	}
	log.SetLevel(level)

	if strings.EqualFold(opts.Format, "json") {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}

	if opts.File == "" {
		log.SetOutput(os.Stdout)
		return nil, nil
	}

	rotator := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stdout, rotator))
	return rotator, nil
}
