package config

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	// Worker identity
	WorkerName string `mapstructure:"CLIPFORGE_WORKER_NAME"`

	// Database Configuration
	DatabaseDSN     string `mapstructure:"DATABASE_DSN" validate:"required"`
	DatabaseRetries int    `mapstructure:"DATABASE_RETRIES"`

	// Storage Configuration
	StorageBackend   string `mapstructure:"STORAGE_BACKEND" validate:"oneof=local s3"`
	LocalStoragePath string `mapstructure:"LOCAL_STORAGE_PATH"`
	S3Endpoint       string `mapstructure:"S3_ENDPOINT"`
	S3Bucket         string `mapstructure:"S3_BUCKET"`
	S3Region         string `mapstructure:"AWS_REGION"`
	S3AccessKey      string `mapstructure:"AWS_ACCESS_KEY_ID"`
	S3SecretKey      string `mapstructure:"AWS_SECRET_ACCESS_KEY"`
	S3UseSSL         bool   `mapstructure:"S3_USE_SSL"`

	// Poll loop / liveness
	PollIntervalSeconds      float64 `mapstructure:"WORKER_POLL_INTERVAL" validate:"gt=0"`
	HeartbeatIntervalSeconds float64 `mapstructure:"WORKER_HEARTBEAT_INTERVAL" validate:"gt=0"`
	StaleJobSeconds          int     `mapstructure:"WORKER_STALE_JOB_SECONDS" validate:"gt=0"`

	// Scratch space
	TmpDir         string `mapstructure:"WORKER_TMP_DIR"`
	MaxSourceBytes int64  `mapstructure:"WORKER_MAX_SOURCE_BYTES" validate:"gt=0"`

	// External process timeouts (seconds)
	FFmpegTimeout int `mapstructure:"WORKER_FFMPEG_TIMEOUT" validate:"gt=0"`
	ProbeTimeout  int `mapstructure:"WORKER_PROBE_TIMEOUT" validate:"gt=0"`
	RenderTimeout int `mapstructure:"WORKER_RENDER_TIMEOUT" validate:"gt=0"`

	// Silence detection
	SilenceDB     string  `mapstructure:"WORKER_SILENCE_DB"`
	SilenceMinDur float64 `mapstructure:"WORKER_SILENCE_MIN_DUR" validate:"gt=0"`

	// Segmentation
	ClipMinSeconds      float64 `mapstructure:"WORKER_CLIP_MIN_SECONDS" validate:"gt=0"`
	ClipTargetSeconds   float64 `mapstructure:"WORKER_CLIP_TARGET_SECONDS" validate:"gt=0"`
	ClipMaxSeconds      float64 `mapstructure:"WORKER_CLIP_MAX_SECONDS" validate:"gt=0"`
	MaxGapMerge         float64 `mapstructure:"WORKER_MAX_GAP_MERGE" validate:"gte=0"`
	SilencePadding      float64 `mapstructure:"WORKER_SILENCE_PADDING" validate:"gte=0"`
	UtteranceMaxSeconds float64 `mapstructure:"WORKER_UTTERANCE_MAX_SECONDS" validate:"gt=0"`
	UtterancePause      float64 `mapstructure:"WORKER_UTTERANCE_PAUSE_SECONDS" validate:"gt=0"`

	// Selection
	TopKClips         int     `mapstructure:"WORKER_TOP_K_CLIPS" validate:"gt=0"`
	HookConfThreshold float64 `mapstructure:"WORKER_HOOK_CONF_THRESHOLD"`

	// Render
	RenderCRF    int    `mapstructure:"WORKER_RENDER_CRF" validate:"gte=0,lte=51"`
	RenderPreset string `mapstructure:"WORKER_RENDER_PRESET"`
	RenderFPS    int    `mapstructure:"WORKER_RENDER_FPS" validate:"gt=0"`

	// Reframing
	ReframeSampleFPS   float64 `mapstructure:"WORKER_REFRAME_SAMPLE_FPS" validate:"gt=0"`
	ReframeSmoothing   float64 `mapstructure:"WORKER_REFRAME_SMOOTHING" validate:"gte=0,lte=1"`
	ReframeMaxStepPx   float64 `mapstructure:"WORKER_REFRAME_MAX_STEP_PX" validate:"gte=0"`
	ReframeCenterBiasY float64 `mapstructure:"WORKER_REFRAME_CENTER_BIAS_Y" validate:"gt=0,lt=1"`
	FallbackBiasY      float64 `mapstructure:"WORKER_FALLBACK_CENTER_BIAS_Y" validate:"gt=0,lt=1"`
	FaceDetectorCmd    string  `mapstructure:"WORKER_FACE_DETECTOR_CMD"`
	PoseDetectorCmd    string  `mapstructure:"WORKER_POSE_DETECTOR_CMD"`

	// Captions
	CaptionFont         string  `mapstructure:"WORKER_CAPTION_FONT"`
	CaptionFontSize     int     `mapstructure:"WORKER_CAPTION_FONT_SIZE" validate:"gt=0"`
	CaptionColor        string  `mapstructure:"WORKER_CAPTION_COLOR"`
	CaptionOutlineColor string  `mapstructure:"WORKER_CAPTION_OUTLINE"`
	CaptionOutlineWidth int     `mapstructure:"WORKER_CAPTION_OUTLINE_WIDTH" validate:"gte=0"`
	CaptionShadow       int     `mapstructure:"WORKER_CAPTION_SHADOW" validate:"gte=0"`
	CaptionAlignment    int     `mapstructure:"WORKER_CAPTION_ALIGNMENT" validate:"gte=1,lte=9"`
	CaptionMarginH      int     `mapstructure:"WORKER_CAPTION_MARGIN_H" validate:"gte=0"`
	CaptionMarginV      int     `mapstructure:"WORKER_CAPTION_MARGIN_V" validate:"gte=0"`
	CaptionMaxWordsLine int     `mapstructure:"WORKER_CAPTION_MAX_WORDS_PER_LINE" validate:"gt=0"`
	CaptionMaxCharsLine int     `mapstructure:"WORKER_CAPTION_MAX_CHARS_PER_LINE" validate:"gt=0"`
	CaptionMaxLines     int     `mapstructure:"WORKER_CAPTION_MAX_LINES" validate:"gt=0"`
	CaptionMaxBlockSecs float64 `mapstructure:"WORKER_CAPTION_MAX_BLOCK_SECONDS" validate:"gt=0"`
	CaptionBreakPause   float64 `mapstructure:"WORKER_CAPTION_BREAK_PAUSE_SECONDS" validate:"gt=0"`

	// Watermark
	WatermarkText     string  `mapstructure:"WORKER_WATERMARK_TEXT"`
	WatermarkFont     string  `mapstructure:"WORKER_WATERMARK_FONT"`
	WatermarkFontFile string  `mapstructure:"WORKER_WATERMARK_FONTFILE"`
	WatermarkFontSize int     `mapstructure:"WORKER_WATERMARK_FONT_SIZE" validate:"gt=0"`
	WatermarkAlpha    float64 `mapstructure:"WORKER_WATERMARK_ALPHA" validate:"gt=0,lt=1"`
	WatermarkOutline  int     `mapstructure:"WORKER_WATERMARK_OUTLINE" validate:"gte=0"`
	WatermarkShadow   int     `mapstructure:"WORKER_WATERMARK_SHADOW" validate:"gte=0"`
	WatermarkSafePad  int     `mapstructure:"WORKER_WATERMARK_SAFE_PAD" validate:"gte=0"`
	WatermarkSpeed    float64 `mapstructure:"WORKER_WATERMARK_SPEED" validate:"gt=0"`
	WatermarkPulseHz  float64 `mapstructure:"WORKER_WATERMARK_PULSE_HZ" validate:"gt=0"`
	WatermarkDriftPx  int     `mapstructure:"WORKER_WATERMARK_DRIFT_PX" validate:"gte=0"`
	WatermarkBox      bool    `mapstructure:"WORKER_WATERMARK_BOX"`
	WatermarkBoxPad   int     `mapstructure:"WORKER_WATERMARK_BOX_PAD" validate:"gte=0"`

	// Billing
	CreditsPerMinute float64 `mapstructure:"WORKER_CREDITS_PER_MINUTE" validate:"gt=0"`
	MinCreditsPerJob int     `mapstructure:"WORKER_MIN_CREDITS_PER_JOB" validate:"gt=0"`

	// Transcription
	WhisperCmd            string `mapstructure:"WHISPER_CMD"`
	WhisperModel          string `mapstructure:"WHISPER_MODEL"`
	WhisperDevice         string `mapstructure:"WHISPER_DEVICE"`
	WhisperLanguage       string `mapstructure:"WHISPER_LANGUAGE"`
	WhisperTimeoutSeconds int    `mapstructure:"WHISPER_TIMEOUT_SECONDS" validate:"gt=0"`
}

// use reflect to bind environment variables based on mapstructure tags
func bindEnv(c Config) {
	val := reflect.ValueOf(c)
	typ := val.Type()

	for i := 0; i < val.NumField(); i++ {
		field := typ.Field(i)
		tag := field.Tag.Get("mapstructure")
		if tag != "" {
			viper.BindEnv(tag)
		}
	}
}

func setDefaults() {
	viper.SetDefault("CLIPFORGE_WORKER_NAME", "")
	viper.SetDefault("DATABASE_RETRIES", 10)

	viper.SetDefault("STORAGE_BACKEND", "local")
	viper.SetDefault("LOCAL_STORAGE_PATH", "/data/storage")
	viper.SetDefault("AWS_REGION", "us-east-1")
	viper.SetDefault("S3_USE_SSL", true)

	viper.SetDefault("WORKER_POLL_INTERVAL", 2.0)
	viper.SetDefault("WORKER_HEARTBEAT_INTERVAL", 10.0)
	viper.SetDefault("WORKER_STALE_JOB_SECONDS", 1800)

	viper.SetDefault("WORKER_TMP_DIR", "/tmp/clipforge")
	viper.SetDefault("WORKER_MAX_SOURCE_BYTES", int64(5*1024*1024*1024))

	viper.SetDefault("WORKER_FFMPEG_TIMEOUT", 120)
	viper.SetDefault("WORKER_PROBE_TIMEOUT", 30)
	viper.SetDefault("WORKER_RENDER_TIMEOUT", 3600)

	viper.SetDefault("WORKER_SILENCE_DB", "-35dB")
	viper.SetDefault("WORKER_SILENCE_MIN_DUR", 0.35)

	viper.SetDefault("WORKER_CLIP_MIN_SECONDS", 20.0)
	viper.SetDefault("WORKER_CLIP_TARGET_SECONDS", 35.0)
	viper.SetDefault("WORKER_CLIP_MAX_SECONDS", 60.0)
	viper.SetDefault("WORKER_MAX_GAP_MERGE", 0.6)
	viper.SetDefault("WORKER_SILENCE_PADDING", 0.15)
	viper.SetDefault("WORKER_UTTERANCE_MAX_SECONDS", 12.0)
	viper.SetDefault("WORKER_UTTERANCE_PAUSE_SECONDS", 0.55)

	viper.SetDefault("WORKER_TOP_K_CLIPS", 3)
	viper.SetDefault("WORKER_HOOK_CONF_THRESHOLD", 0.55)

	viper.SetDefault("WORKER_RENDER_CRF", 20)
	viper.SetDefault("WORKER_RENDER_PRESET", "veryfast")
	viper.SetDefault("WORKER_RENDER_FPS", 30)

	viper.SetDefault("WORKER_REFRAME_SAMPLE_FPS", 4.0)
	viper.SetDefault("WORKER_REFRAME_SMOOTHING", 0.85)
	viper.SetDefault("WORKER_REFRAME_MAX_STEP_PX", 120.0)
	viper.SetDefault("WORKER_REFRAME_CENTER_BIAS_Y", 0.62)
	viper.SetDefault("WORKER_FALLBACK_CENTER_BIAS_Y", 0.58)
	viper.SetDefault("WORKER_FACE_DETECTOR_CMD", "")
	viper.SetDefault("WORKER_POSE_DETECTOR_CMD", "")

	viper.SetDefault("WORKER_CAPTION_FONT", "Montserrat")
	viper.SetDefault("WORKER_CAPTION_FONT_SIZE", 64)
	viper.SetDefault("WORKER_CAPTION_COLOR", "&H00FFFFFF")
	viper.SetDefault("WORKER_CAPTION_OUTLINE", "&H00000000")
	viper.SetDefault("WORKER_CAPTION_OUTLINE_WIDTH", 3)
	viper.SetDefault("WORKER_CAPTION_SHADOW", 0)
	viper.SetDefault("WORKER_CAPTION_ALIGNMENT", 2)
	viper.SetDefault("WORKER_CAPTION_MARGIN_H", 60)
	viper.SetDefault("WORKER_CAPTION_MARGIN_V", 360)
	viper.SetDefault("WORKER_CAPTION_MAX_WORDS_PER_LINE", 7)
	viper.SetDefault("WORKER_CAPTION_MAX_CHARS_PER_LINE", 34)
	viper.SetDefault("WORKER_CAPTION_MAX_LINES", 2)
	viper.SetDefault("WORKER_CAPTION_MAX_BLOCK_SECONDS", 2.8)
	viper.SetDefault("WORKER_CAPTION_BREAK_PAUSE_SECONDS", 0.65)

	viper.SetDefault("WORKER_WATERMARK_TEXT", "Clipforge")
	viper.SetDefault("WORKER_WATERMARK_FONT", "Montserrat")
	viper.SetDefault("WORKER_WATERMARK_FONTFILE", "")
	viper.SetDefault("WORKER_WATERMARK_FONT_SIZE", 54)
	viper.SetDefault("WORKER_WATERMARK_ALPHA", 0.70)
	viper.SetDefault("WORKER_WATERMARK_OUTLINE", 3)
	viper.SetDefault("WORKER_WATERMARK_SHADOW", 2)
	viper.SetDefault("WORKER_WATERMARK_SAFE_PAD", 32)
	viper.SetDefault("WORKER_WATERMARK_SPEED", 1.35)
	viper.SetDefault("WORKER_WATERMARK_PULSE_HZ", 0.12)
	viper.SetDefault("WORKER_WATERMARK_DRIFT_PX", 22)
	viper.SetDefault("WORKER_WATERMARK_BOX", true)
	viper.SetDefault("WORKER_WATERMARK_BOX_PAD", 10)

	viper.SetDefault("WORKER_CREDITS_PER_MINUTE", 1.0)
	viper.SetDefault("WORKER_MIN_CREDITS_PER_JOB", 1)

	viper.SetDefault("WHISPER_CMD", "whisper")
	viper.SetDefault("WHISPER_MODEL", "base")
	viper.SetDefault("WHISPER_DEVICE", "cpu")
	viper.SetDefault("WHISPER_LANGUAGE", "")
	viper.SetDefault("WHISPER_TIMEOUT_SECONDS", 1800)
}

func LoadConfig(ctx context.Context) (*Config, error) {
	bindEnv(Config{})
	viper.AutomaticEnv()
	setDefaults()

	cfg := Config{}
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if cfg.StorageBackend == "s3" && cfg.S3Bucket == "" {
		return nil, fmt.Errorf("validate config: S3_BUCKET is required when STORAGE_BACKEND=s3")
	}

	slog.Info("Loaded configuration",
		"storage", cfg.StorageBackend,
		"tmp_dir", cfg.TmpDir,
		"poll_interval", cfg.PollIntervalSeconds,
		"heartbeat_interval", cfg.HeartbeatIntervalSeconds,
		"stale_job_seconds", cfg.StaleJobSeconds,
	)

	return &cfg, nil
}

// PollInterval returns the poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds * float64(time.Second))
}

// HeartbeatInterval returns the heartbeat interval as a duration.
func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds * float64(time.Second))
}
