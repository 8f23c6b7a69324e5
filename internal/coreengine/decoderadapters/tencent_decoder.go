package decoderadapters

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	asr "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/asr/v20190614"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	sdkerrors "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/errors"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
)

const tencentDefaultEndpoint = "asr.tencentcloudapi.com"

// TencentDecoder transcribes the manifest with Tencent Cloud SentenceRecognition.
//
// Variant options: region (required), engine_model_type (16k_zh), endpoint,
// secret_id and secret_key (default TENCENT_SECRET_ID / TENCENT_SECRET_KEY).
type TencentDecoder struct {
	Log zerolog.Logger
}

// NewTencentDecoder creates a TencentDecoder.
func NewTencentDecoder(log zerolog.Logger) *TencentDecoder {
	return &TencentDecoder{Log: log.With().Str("engine", "tencent").Logger()}
}

func (d *TencentDecoder) newClient(opts map[string]string) (*asr.Client, error) {
	secretID := firstNonEmpty(opts["secret_id"], os.Getenv("TENCENT_SECRET_ID"))
	secretKey := firstNonEmpty(opts["secret_key"], os.Getenv("TENCENT_SECRET_KEY"))
	if secretID == "" || secretKey == "" {
		return nil, errors.New("Tencent Cloud SecretId/SecretKey are not configured")
	}
	region := opts["region"]
	if region == "" {
		return nil, errors.New("Tencent Cloud region is missing (options.region)")
	}
	cpf := profile.NewClientProfile()
	cpf.HttpProfile.Endpoint = firstNonEmpty(opts["endpoint"], tencentDefaultEndpoint)
	client, err := asr.NewClient(common.NewCredential(secretID, secretKey), region, cpf)
	if err != nil {
		return nil, fmt.Errorf("failed to create Tencent ASR client: %w", err)
	}
	return client, nil
}

// Decode calls SentenceRecognition once per utterance.
func (d *TencentDecoder) Decode(ctx context.Context, req DecodeRequest) error {
	client, err := d.newClient(req.Variant.Options)
	if err != nil {
		return err
	}
	engineModelType := req.Variant.Option("engine_model_type", "16k_zh")
	log := d.Log.With().Str("variant", req.Variant.Name).Logger()

	return transcribeManifest(ctx, req, log, func(ctx context.Context, audio []byte, audioPath string) (string, error) {
		request := asr.NewSentenceRecognitionRequest()
		request.EngSerViceType = common.StringPtr(engineModelType)
		request.SourceType = common.Uint64Ptr(1) // audio data in the request body
		request.VoiceFormat = common.StringPtr(voiceFormat(audioPath))
		request.Data = common.StringPtr(base64.StdEncoding.EncodeToString(audio))
		request.DataLen = common.Int64Ptr(int64(len(audio)))

		response, err := client.SentenceRecognitionWithContext(ctx, request)
		if err != nil {
			var terr *sdkerrors.TencentCloudSDKError
			if errors.As(err, &terr) {
				return "", fmt.Errorf("Tencent ASR API error: %s (Code: %s, RequestId: %s)", terr.GetMessage(), terr.GetCode(), terr.GetRequestId())
			}
			return "", fmt.Errorf("Tencent ASR API request failed: %w", err)
		}
		if response.Response == nil || response.Response.Result == nil {
			return "", errors.New("Tencent ASR API returned nil response or result")
		}
		return *response.Response.Result, nil
	})
}

func voiceFormat(audioPath string) string {
	if ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(audioPath)), "."); ext != "" {
		return ext
	}
	return "wav"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
