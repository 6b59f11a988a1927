package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger 全局日志实例
	Logger = logrus.StandardLogger()

	logMu       sync.Mutex
	savedConfig Config
	fileWriter  *lumberjack.Logger
	currentFile string
)

// Config 日志配置
type Config struct {
	Level      string `yaml:"level" json:"level"`             // debug, info, warn, error
	OutputFile string `yaml:"output_file" json:"output_file"` // 为空则只输出到控制台
	MaxSize    int    `yaml:"max_size" json:"max_size"`       // 单文件最大大小（MB）
	MaxBackups int    `yaml:"max_backups" json:"max_backups"` // 保留的旧日志文件数量
	MaxAge     int    `yaml:"max_age" json:"max_age"`         // 保留天数
	Compress   bool   `yaml:"compress" json:"compress"`
	// LogByMarket 按市场 slug 切分日志文件：logs/btc-updown-15m-1765985400.log
	LogByMarket bool `yaml:"log_by_market" json:"log_by_market"`
}

func newFormatter() logrus.Formatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05", // yy-mm-dd HH:MM:ss
		ForceColors:     true,
	}
}

// Init 初始化日志系统（同时设置全局 logrus，策略里 logrus.WithField 也会写文件）
func Init(config Config) error {
	logMu.Lock()
	defer logMu.Unlock()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(newFormatter())
	savedConfig = config

	if config.OutputFile == "" {
		logrus.SetOutput(os.Stdout)
		return nil
	}
	return openFileLocked(config.OutputFile)
}

func openFileLocked(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if fileWriter != nil {
		_ = fileWriter.Close()
	}
	fileWriter = &lumberjack.Logger{
		Filename:   path,
		MaxSize:    savedConfig.MaxSize,
		MaxBackups: savedConfig.MaxBackups,
		MaxAge:     savedConfig.MaxAge,
		Compress:   savedConfig.Compress,
	}
	currentFile = path
	logrus.SetOutput(io.MultiWriter(os.Stdout, fileWriter))
	return nil
}

// marketLogFile 例如 logs/bot.log + btc-updown-15m-1765985400 -> logs/btc-updown-15m-1765985400.log
func marketLogFile(basePath, slug string) string {
	ext := filepath.Ext(basePath)
	if ext == "" {
		ext = ".log"
	}
	name := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ' ' {
			return '_'
		}
		return r
	}, slug) + ext
	return filepath.Join(filepath.Dir(basePath), name)
}

// SetMarketSlug 切换到新市场时调用；开启 LogByMarket 才会切文件
func SetMarketSlug(slug string) error {
	logMu.Lock()
	defer logMu.Unlock()
	if !savedConfig.LogByMarket || savedConfig.OutputFile == "" || slug == "" {
		return nil
	}
	path := marketLogFile(savedConfig.OutputFile, slug)
	if path == currentFile {
		return nil
	}
	return openFileLocked(path)
}

// CurrentFile 当前写入的日志文件（未写文件时为空）
func CurrentFile() string {
	logMu.Lock()
	defer logMu.Unlock()
	return currentFile
}

// Close 关闭日志文件
func Close() error {
	logMu.Lock()
	defer logMu.Unlock()
	if fileWriter == nil {
		return nil
	}
	err := fileWriter.Close()
	fileWriter = nil
	logrus.SetOutput(os.Stdout)
	return err
}

func WithField(key string, value interface{}) *logrus.Entry {
	return Logger.WithField(key, value)
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return Logger.WithFields(fields)
}

func Debugf(format string, args ...interface{}) { Logger.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { Logger.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { Logger.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { Logger.Errorf(format, args...) }
func Info(args ...interface{})                  { Logger.Info(args...) }
func Warn(args ...interface{})                  { Logger.Warn(args...) }

// Fatalf 打印并退出进程（回撤熔断用）
func Fatalf(format string, args ...interface{}) {
	Logger.Fatalf(format, args...)
}
