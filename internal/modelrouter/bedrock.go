package modelrouter

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client used by
// BedrockClient, satisfied by *bedrockruntime.Client.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockClient implements Client on top of the AWS Bedrock Converse API.
type BedrockClient struct {
	runtime RuntimeClient
}

// NewBedrockClient wraps runtime as a Client.
func NewBedrockClient(runtime RuntimeClient) (*BedrockClient, error) {
	if runtime == nil {
		return nil, errors.New("modelrouter: bedrock runtime client is required")
	}
	return &BedrockClient{runtime: runtime}, nil
}

// Generate issues a single-turn Converse request and returns the
// concatenated text of the response message.
func (c *BedrockClient) Generate(ctx context.Context, modelName, prompt string, opts Options) (string, error) {
	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(modelName),
		Messages: []brtypes.Message{
			{
				Role: brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{
					&brtypes.ContentBlockMemberText{Value: prompt},
				},
			},
		},
	}
	inferenceConfig := &brtypes.InferenceConfiguration{}
	if opts.MaxTokens > 0 {
		v := int32(opts.MaxTokens)
		inferenceConfig.MaxTokens = &v
	}
	if opts.Temperature > 0 {
		v := float32(opts.Temperature)
		inferenceConfig.Temperature = &v
	}
	if opts.TopP > 0 {
		v := float32(opts.TopP)
		inferenceConfig.TopP = &v
	}
	input.InferenceConfig = inferenceConfig

	out, err := c.runtime.Converse(ctx, input)
	if err != nil {
		return "", fmt.Errorf("modelrouter: bedrock converse: %w", err)
	}
	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", errors.New("modelrouter: bedrock converse returned no message")
	}
	var text string
	for _, block := range msg.Value.Content {
		if tb, ok := block.(*brtypes.ContentBlockMemberText); ok {
			text += tb.Value
		}
	}
	return text, nil
}
