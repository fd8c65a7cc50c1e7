package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultQuestion is the user turn sent when a capture arrives without a
// question, and the fallback for blank follow-up questions.
const DefaultQuestion = "请为我描述周围的环境"

// describeSystemPrompt instructs the model to narrate the scene for a
// blind user: near to far, left to right, and never skip traffic lights,
// crosswalks, transit buildings, signage or tactile paving.
const describeSystemPrompt = `你是一个导盲助手, 这是一张来自盲人举起手机拍摄的正前方的照片.照片的左侧是拍摄者的左手方向 , 右侧是拍摄者的右手方向.
你需要为他描述周围的环境. 请注意,他的眼睛是看不到的.
使用中文进行回复.避免使用列表、加粗等格式符号,只保留文字

请按照 从近到远,从左向右的顺序进行描述.
请简明准确语言的描述环境, 描述主要物品的位置.
如果出现文字,请正确描述文字内容, 不要忽略.

- 你可以使用以下格式描述物体和位置关系:
    "在...的前面"、"在...的后面"、"在...的左边"、"在...的右边"、"在...的上面"、"在...的下面"

- 如果有如下物品请注意描述不要忽略:
    1. 交通信号灯, 如 "现在是红灯"
    2. 人行横道线, 如 "人行横道线在正前面"
    3. 交通站点建筑, 如 "公交车站在左边" "前方是地下通道入口"
    4. 地名/位置 指示牌, 如 "1号出口在右边" "这里是地铁10号线的入口"
    5. 盲道, 如 "盲道在右边"

- 如果照片中道路被堵塞, 请你描述道路的情况和周围的环境。帮助用户离开堵塞的地方.
    例如: "前面有一辆车挡住了路, 你可以向左转, 继续前行." "前方有一个大坑, 请小心行走." "前面有一个人挡住了路, 请向右转." "前面有一个台阶, 请小心上下." "前方有一个栏杆,请向右转绕开."`

// followUpSystemPrompt keeps the conversational tone without the
// structured enumeration used for the primary description.
const followUpSystemPrompt = `你是一个导盲助手. 这是一张来自盲人举起手机拍摄的正前方的照片, 照片的左侧是拍摄者的左手方向 , 右侧是拍摄者的右手方向.
你需要根据他提供的图片来回答他的问题,请注意,他的眼睛是看不到的.
使用中文的口语的风格进行回复.避免使用列表、加粗等格式符号, 只保留文字。`

// Client is a thin adapter over an OpenAI-compatible chat-completions
// backend (OpenAI proper, or DashScope/Qwen via base URL override).
// Exactly one model round trip per call, no retries, no conversation
// history: every follow-up is answered fresh against the provided image.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a vision client. baseURL may be empty for api.openai.com.
func New(apiKey, baseURL, model string) *Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(cfg),
		model: model,
	}
}

// Describe asks the model for a structured scene narration of the image.
func (c *Client) Describe(ctx context.Context, jpegData []byte) (string, error) {
	return c.complete(ctx, describeSystemPrompt, jpegData, DefaultQuestion)
}

// FollowUp answers a free-form question about the image. A blank
// question falls back to the default describe request.
func (c *Client) FollowUp(ctx context.Context, jpegData []byte, question string) (string, error) {
	if question == "" {
		question = DefaultQuestion
	}
	return c.complete(ctx, followUpSystemPrompt, jpegData, question)
}

func (c *Client) complete(ctx context.Context, systemPrompt string, jpegData []byte, userText string) (string, error) {
	dataURL := fmt.Sprintf("data:image/jpeg;base64,%s", base64.StdEncoding.EncodeToString(jpegData))

	start := time.Now()
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type:     openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{URL: dataURL},
					},
					{
						Type: openai.ChatMessagePartTypeText,
						Text: userText,
					},
				},
			},
		},
	})
	if err != nil {
		return "", fmt.Errorf("vision backend call failed: %w", err)
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("vision backend returned no answer (model %s)", c.model)
	}

	answer := resp.Choices[0].Message.Content
	slog.Debug("vision response",
		"model", c.model,
		"latency_ms", time.Since(start).Milliseconds(),
		"answer_len", len(answer),
	)
	return answer, nil
}
