package logger

import (
	"time"

	"go.uber.org/zap"
)

// Standard field constructors so log keys stay consistent across packages.

func RequestID(v string) zap.Field { return zap.String("request_id", v) }
func Method(v string) zap.Field    { return zap.String("method", v) }
func Path(v string) zap.Field      { return zap.String("path", v) }
func Status(v int) zap.Field       { return zap.Int("status", v) }

func Duration(v time.Duration) zap.Field { return zap.Duration("duration", v) }

func UserID(v string) zap.Field { return zap.String("user_id", v) }
func IdP(v string) zap.Field    { return zap.String("idp", v) }

// MappingKey logs the remote-to-local join key.
func MappingKey(v string) zap.Field { return zap.String("mapping_key", v) }

func Component(v string) zap.Field { return zap.String("component", v) }
func Op(v string) zap.Field        { return zap.String("op", v) }
func Layer(v string) zap.Field     { return zap.String("layer", v) }
func Err(err error) zap.Field      { return zap.Error(err) }

func String(key, v string) zap.Field    { return zap.String(key, v) }
func Int(key string, v int) zap.Field   { return zap.Int(key, v) }
func Bool(key string, v bool) zap.Field { return zap.Bool(key, v) }
func Any(key string, v any) zap.Field   { return zap.Any(key, v) }
