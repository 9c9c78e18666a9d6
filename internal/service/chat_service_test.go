package service

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"line-gemini-relay/internal/model"
	"line-gemini-relay/pkg/llm"
)

func newChatFixture(result llm.Result) (*chatService, *memRepo, ConversationService, *fakeGateway) {
	repo := &memRepo{}
	conv := NewConversationService(repo, WithClock(fixedClock()))
	gw := &fakeGateway{result: result}
	return NewChatService(conv, gw).(*chatService), repo, conv, gw
}

func TestDispatch_ClearCommand(t *testing.T) {
	ctx := context.Background()
	for _, input := range []string{"删除历史对话", "  删除历史对话\n", "\t删除历史对话 "} {
		t.Run(fmt.Sprintf("%q", input), func(t *testing.T) {
			chat, repo, conv, gw := newChatFixture(llm.Result{Text: "unused"})
			_, err := conv.Append(ctx, "U1", "q", "a")
			require.NoError(t, err)
			saves := repo.saves

			reply, err := chat.Dispatch(ctx, model.TextEvent{UserID: "U2", Text: input})
			require.NoError(t, err)
			assert.Equal(t, ReplyHistoryCleared, reply)
			assert.Equal(t, saves+1, repo.saves, "clear persists exactly once")
			assert.Empty(t, conv.All())
			assert.Empty(t, gw.prompts, "commands never reach the model")
		})
	}
}

func TestDispatch_ClearCommandOnEmptyStore(t *testing.T) {
	chat, repo, _, _ := newChatFixture(llm.Result{})

	reply, err := chat.Dispatch(context.Background(), model.TextEvent{UserID: "U1", Text: "删除历史对话"})
	require.NoError(t, err)
	assert.Equal(t, ReplyHistoryCleared, reply)
	assert.Equal(t, 1, repo.saves)
}

func TestDispatch_ClearCommandFailure(t *testing.T) {
	chat, repo, _, _ := newChatFixture(llm.Result{})
	repo.failSave = errDiskFull

	reply, err := chat.Dispatch(context.Background(), model.TextEvent{UserID: "U1", Text: "删除历史对话"})
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, ReplyClearFailed, reply)
}

func TestDispatch_ViewHistory(t *testing.T) {
	ctx := context.Background()
	chat, _, conv, gw := newChatFixture(llm.Result{})

	reply, err := chat.Dispatch(ctx, model.TextEvent{UserID: "U1", Text: "查看历史"})
	require.NoError(t, err)
	assert.Equal(t, ReplyNoHistory, reply)

	_, err = conv.Append(ctx, "U1", "hi", "hello")
	require.NoError(t, err)
	_, err = conv.Append(ctx, "U2", "secret", "hidden")
	require.NoError(t, err)
	_, err = conv.Append(ctx, "U1", "bye", "goodbye")
	require.NoError(t, err)

	reply, err = chat.Dispatch(ctx, model.TextEvent{UserID: "U1", Text: " 查看历史 "})
	require.NoError(t, err)
	assert.Equal(t, "📜 历史对话记录：\n\n1. 你：hi\n   AI：hello\n\n2. 你：bye\n   AI：goodbye\n\n", reply)
	assert.Empty(t, gw.prompts)
	assert.Len(t, conv.All(), 3, "viewing history does not append")
}

func TestFormatHistory_OmittedTrailer(t *testing.T) {
	recent := make([]model.Conversation, 5)
	for i := range recent {
		recent[i] = model.Conversation{Question: fmt.Sprintf("q%d", i), Answer: "a"}
	}

	out := FormatHistory(recent, 2)
	assert.Contains(t, out, "5. 你：q4\n")
	assert.Contains(t, out, "（还有 2 条历史对话未显示）")
	assert.NotContains(t, FormatHistory(recent, 0), "未显示")
}

func TestDispatch_FreeTextSuccessIsLogged(t *testing.T) {
	ctx := context.Background()
	chat, _, conv, gw := newChatFixture(llm.Result{Text: "Hello there"})

	reply, err := chat.Dispatch(ctx, model.TextEvent{UserID: "U1", Text: "  Hi  "})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", reply)
	assert.Equal(t, []string{"  Hi  "}, gw.prompts, "raw text goes to the model")

	all := conv.All()
	require.Len(t, all, 1)
	assert.Equal(t, model.Conversation{ID: 1, UserID: "U1", Question: "  Hi  ", Answer: "Hello there", Timestamp: "2026-10-16 09:30:00"}, all[0])
}

func TestDispatch_EmptyModelTextFallsBack(t *testing.T) {
	chat, _, conv, _ := newChatFixture(llm.Result{Text: ""})

	reply, err := chat.Dispatch(context.Background(), model.TextEvent{UserID: "U1", Text: "hi"})
	require.NoError(t, err)
	assert.Equal(t, ReplyEmptyModelText, reply)
	assert.Equal(t, ReplyEmptyModelText, conv.All()[0].Answer)
}

func TestDispatch_GatewayFailureClassification(t *testing.T) {
	tests := []struct {
		name    string
		failure llm.Failure
		want    string
	}{
		{name: "quota message", failure: llm.Failure{Category: llm.CategoryGeneric, Message: "Quota exceeded for today"}, want: ReplyQuotaExhausted},
		{name: "quota category", failure: llm.Failure{Category: llm.CategoryQuota, Message: "status 429"}, want: ReplyQuotaExhausted},
		{name: "network", failure: llm.Failure{Category: llm.CategoryGeneric, Message: "network unreachable"}, want: ReplyGenerationFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.failure
			chat, _, conv, _ := newChatFixture(llm.Result{Failure: &f})

			reply, err := chat.Dispatch(context.Background(), model.TextEvent{UserID: "U1", Text: "hi"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, reply)

			all := conv.All()
			require.Len(t, all, 1, "failed generations are still logged")
			assert.Equal(t, "hi", all[0].Question)
			assert.Equal(t, tt.want, all[0].Answer)
		})
	}
}

func TestDispatch_PersistenceFailureStillReplies(t *testing.T) {
	chat, repo, _, _ := newChatFixture(llm.Result{Text: "answer"})
	repo.failSave = errDiskFull

	reply, err := chat.Dispatch(context.Background(), model.TextEvent{UserID: "U1", Text: "hi"})
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, "answer", reply)
}

func TestDispatch_NonTextEvents(t *testing.T) {
	tests := []struct {
		name  string
		event model.InboundEvent
		want  string
	}{
		{name: "sticker", event: model.StickerEvent{UserID: "U1"}, want: ReplySticker},
		{name: "image", event: model.ImageEvent{UserID: "U1"}, want: ReplyImage},
		{name: "video", event: model.VideoEvent{UserID: "U1"}, want: ReplyVideo},
		{
			name:  "location",
			event: model.LocationEvent{UserID: "U1", Address: "台北101", Latitude: 25.0339, Longitude: 121.5645},
			want:  "你传了位置：台北101\n经纬度：(25.0339, 121.5645)",
		},
		{
			name:  "location without address",
			event: model.LocationEvent{UserID: "U1", Latitude: 35.5, Longitude: -120.25},
			want:  "你传了位置：（无法取得地址）\n经纬度：(35.5, -120.25)",
		},
		{
			name:  "whole-number coordinates",
			event: model.LocationEvent{UserID: "U1", Address: "赤道", Latitude: 0, Longitude: -78},
			want:  "你传了位置：赤道\n经纬度：(0.0, -78.0)",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chat, repo, _, gw := newChatFixture(llm.Result{Text: "unused"})

			reply, err := chat.Dispatch(context.Background(), tt.event)
			require.NoError(t, err)
			assert.Equal(t, tt.want, reply)
			assert.Empty(t, gw.prompts)
			assert.Zero(t, repo.saves)
		})
	}
}

func TestFormatCoordinate(t *testing.T) {
	tests := map[float64]string{
		25:        "25.0",
		25.0339:   "25.0339",
		-120.25:   "-120.25",
		0:         "0.0",
		121.5:     "121.5",
		-33.86882: "-33.86882",
	}
	for in, want := range tests {
		assert.Equal(t, want, formatCoordinate(in), "%v", in)
	}
}
