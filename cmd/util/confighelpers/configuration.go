// Copyright 2025, Offchain Labs, Inc.
// For license information, see https://github.com/OffchainLabs/nitro/blob/master/LICENSE.md

package confighelpers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/mitchellh/mapstructure"
	flag "github.com/spf13/pflag"

	"github.com/offchainlabs/blockproofs/cmd/genericconf"
	"github.com/offchainlabs/blockproofs/util/colors"
)

var ErrVersion = errors.New("version requested")

func applyOverrides(f *flag.FlagSet, k *koanf.Koanf) error {
	// Command line overrides
	if err := loadEnvironmentVariables(k); err != nil {
		return fmt.Errorf("error loading environment variables: %w", err)
	}
	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return fmt.Errorf("error loading command line parameters: %w", err)
	}
	return nil
}

func loadEnvironmentVariables(k *koanf.Koanf) error {
	envPrefix := k.String("conf.env-prefix")
	if len(envPrefix) == 0 {
		return nil
	}
	return k.Load(env.ProviderWithValue(envPrefix+"_", ".", func(key, v string) (string, interface{}) {
		// FOO__BAR_BAZ becomes foo-bar.baz
		key = strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, envPrefix+"_")), "__", "-")
		key = strings.ReplaceAll(key, "_", ".")
		if strings.Contains(v, ",") {
			return key, strings.Split(v, ",")
		}
		return key, v
	}), nil)
}

func loadS3Variables(ctx context.Context, k *koanf.Koanf) error {
	var config genericconf.S3Config
	if err := k.UnmarshalWithConf("conf.s3", &config, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return err
	}
	if !config.Enabled() {
		return nil
	}
	if err := config.Validate(); err != nil {
		return err
	}
	buf := manager.NewWriteAtBuffer([]byte{})
	_, err := manager.NewDownloader(config.NewS3Client()).Download(ctx, buf, &s3.GetObjectInput{
		Bucket: aws.String(config.Bucket),
		Key:    aws.String(config.ObjectKey),
	})
	if err != nil {
		return fmt.Errorf("downloading config from s3://%s/%s: %w", config.Bucket, config.ObjectKey, err)
	}
	return k.Load(rawbytes.Provider(buf.Bytes()), json.Parser())
}

func loadConfigFiles(k *koanf.Koanf) error {
	for _, name := range k.Strings("conf.file") {
		if err := k.Load(file.Provider(name), json.Parser()); err != nil {
			return fmt.Errorf("error loading local config file %s: %w", name, err)
		}
	}
	if s := k.String("conf.string"); s != "" {
		if err := k.Load(rawbytes.Provider([]byte(s)), json.Parser()); err != nil {
			return fmt.Errorf("error loading config string: %w", err)
		}
	}
	return nil
}

// BeginCommonParse layers configuration sources: flag defaults, then the S3
// object, config files and config string named by --conf, then environment
// variables and finally explicitly set flags.
func BeginCommonParse(f *flag.FlagSet, args []string) (*koanf.Koanf, error) {
	for _, arg := range args {
		if arg == "--version" || arg == "-v" {
			return nil, ErrVersion
		}
	}
	if err := f.Parse(args); err != nil {
		return nil, err
	}
	if f.NArg() != 0 {
		return nil, fmt.Errorf("unexpected parameters: %v", f.Args())
	}

	k := koanf.New(".")
	if err := k.Load(posflag.Provider(f, ".", k), nil); err != nil {
		return nil, fmt.Errorf("error loading defaults: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if err := loadS3Variables(ctx, k); err != nil {
		return nil, fmt.Errorf("error loading S3 settings: %w", err)
	}
	if err := loadConfigFiles(k); err != nil {
		return nil, err
	}
	if err := applyOverrides(f, k); err != nil {
		return nil, err
	}
	return k, nil
}

// EndCommonParse decodes k into config. Unknown keys are errors.
func EndCommonParse(k *koanf.Koanf, config interface{}) error {
	decoderConfig := mapstructure.DecoderConfig{
		ErrorUnused: true,

		// Default values
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(",")),
		Metadata:         nil,
		Result:           config,
		WeaklyTypedInput: true,
	}
	return k.UnmarshalWithConf("", config, koanf.UnmarshalConf{DecoderConfig: &decoderConfig})
}

// DumpConfig prints the active configuration as JSON, with the given keys
// overridden so secrets stay out of logs.
func DumpConfig(k *koanf.Koanf, extraOverrideFields map[string]interface{}) error {
	overrideFields := map[string]interface{}{"conf.dump": false}
	for key, value := range extraOverrideFields {
		overrideFields[key] = value
	}
	if err := k.Load(confmap.Provider(overrideFields, "."), nil); err != nil {
		return fmt.Errorf("error removing extra parameters before dump: %w", err)
	}
	c, err := k.Marshal(json.Parser())
	if err != nil {
		return fmt.Errorf("unable to marshal config file to JSON: %w", err)
	}
	fmt.Println(string(c))
	return nil
}

func PrintErrorAndExit(err error, usage func(string)) {
	if errors.Is(err, ErrVersion) {
		revision, vcsTime := GetVersion()
		fmt.Printf("revision %s (%s)\n", revision, vcsTime)
		os.Exit(0)
	}
	if errors.Is(err, flag.ErrHelp) {
		os.Exit(0)
	}
	fmt.Fprintf(os.Stderr, "%s%s%s\n", colors.Red, err.Error(), colors.Clear)
	usage(os.Args[0])
	os.Exit(1)
}

// GetVersion reports the vcs revision and time the binary was built from.
func GetVersion() (string, string) {
	revision, vcsTime := "development", "development"
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return revision, vcsTime
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
			if len(revision) > 7 {
				revision = revision[:7]
			}
		case "vcs.time":
			vcsTime = setting.Value
		}
	}
	return revision, vcsTime
}
