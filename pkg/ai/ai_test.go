package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type stubScorer struct {
	name   Provider
	result ScoreResult
	err    error
	calls  int
}

func (s *stubScorer) Name() Provider { return s.name }

func (s *stubScorer) Score(ctx context.Context, req ScoreRequest) (ScoreResult, error) {
	s.calls++
	if s.err != nil {
		return ScoreResult{}, s.err
	}
	result := s.result
	result.Provider = s.name
	return result, nil
}

func mlServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/grade", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var payload map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		require.Contains(t, payload, "maxScore")

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestServiceScorerSuccess(t *testing.T) {
	server := mlServer(t, http.StatusOK, `{"success":true,"score":7.6,"feedback":"<b>Good</b> reasoning","confidence":0.9}`)

	scorer, err := NewServiceScorer(ServiceConfig{BaseURL: server.URL + "/", Logger: zerolog.Nop()})
	require.NoError(t, err)

	result, err := scorer.Score(context.Background(), ScoreRequest{Question: "q", Answer: "a", MaxScore: 10})
	require.NoError(t, err)
	require.Equal(t, 8.0, result.Score)
	require.Equal(t, "Good reasoning", result.Feedback)
	require.Equal(t, ProviderML, result.Provider)
	require.False(t, result.Adjusted)
	require.False(t, result.LowConfidence)
}

func TestServiceScorerClampsAndFlags(t *testing.T) {
	server := mlServer(t, http.StatusOK, `{"success":true,"score":14,"feedback":"ok","confidence":0.2}`)

	scorer, err := NewServiceScorer(ServiceConfig{BaseURL: server.URL, Logger: zerolog.Nop()})
	require.NoError(t, err)

	result, err := scorer.Score(context.Background(), ScoreRequest{MaxScore: 10})
	require.NoError(t, err)
	require.Equal(t, 10.0, result.Score)
	require.True(t, result.Adjusted)
	require.True(t, result.LowConfidence)
}

func TestServiceScorerNon2xxIsUnreachable(t *testing.T) {
	server := mlServer(t, http.StatusBadGateway, `{}`)

	scorer, err := NewServiceScorer(ServiceConfig{BaseURL: server.URL, Logger: zerolog.Nop()})
	require.NoError(t, err)

	_, err = scorer.Score(context.Background(), ScoreRequest{MaxScore: 10})
	require.ErrorIs(t, err, ErrProviderUnreachable)
	require.False(t, errors.Is(err, ErrProviderInvalidResponse))
}

func TestServiceScorerInvalidPayload(t *testing.T) {
	server := mlServer(t, http.StatusOK, `{"feedback":"missing score"}`)

	scorer, err := NewServiceScorer(ServiceConfig{BaseURL: server.URL, Logger: zerolog.Nop()})
	require.NoError(t, err)

	_, err = scorer.Score(context.Background(), ScoreRequest{MaxScore: 10})
	require.ErrorIs(t, err, ErrProviderInvalidResponse)
}

func TestServiceScorerReportedFailure(t *testing.T) {
	server := mlServer(t, http.StatusOK, `{"success":false,"score":0}`)

	scorer, err := NewServiceScorer(ServiceConfig{BaseURL: server.URL, Logger: zerolog.Nop()})
	require.NoError(t, err)

	_, err = scorer.Score(context.Background(), ScoreRequest{MaxScore: 10})
	require.ErrorIs(t, err, ErrProviderInvalidResponse)
}

func TestServiceScorerTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	scorer, err := NewServiceScorer(ServiceConfig{BaseURL: server.URL, Timeout: 50 * time.Millisecond, Logger: zerolog.Nop()})
	require.NoError(t, err)

	_, err = scorer.Score(context.Background(), ScoreRequest{MaxScore: 10})
	require.ErrorIs(t, err, ErrProviderUnreachable)
}

func chatCompletionServer(t *testing.T, content string) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": time.Now().Unix(),
			"model":   "gemini-2.0-flash",
			"choices": []map[string]interface{}{{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]interface{}{"role": "assistant", "content": content},
			}},
			"usage": map[string]int{"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15},
		})
	}))
	t.Cleanup(server.Close)
	return server
}

func TestGenerativeScorerParsesFencedJSON(t *testing.T) {
	server := chatCompletionServer(t, "```json\n{\"score\": -3, \"feedback\": \"ควรอธิบายเพิ่มเติม\"}\n```")

	scorer, err := NewGenerativeScorer(GenerativeConfig{APIKey: "test-key", BaseURL: server.URL, Logger: zerolog.Nop()})
	require.NoError(t, err)

	result, err := scorer.Score(context.Background(), ScoreRequest{Question: "q", Answer: "a", MaxScore: 20})
	require.NoError(t, err)
	require.Equal(t, 0.0, result.Score)
	require.True(t, result.Adjusted)
	require.Equal(t, "ควรอธิบายเพิ่มเติม", result.Feedback)
	require.Equal(t, ProviderGemini, result.Provider)
}

func TestGenerativeScorerGarbageIsInvalidResponse(t *testing.T) {
	server := chatCompletionServer(t, "I think this deserves a B")

	scorer, err := NewGenerativeScorer(GenerativeConfig{APIKey: "test-key", BaseURL: server.URL, Logger: zerolog.Nop()})
	require.NoError(t, err)

	_, err = scorer.Score(context.Background(), ScoreRequest{MaxScore: 20})
	require.ErrorIs(t, err, ErrProviderInvalidResponse)
}

func TestGenerativeScorerRequiresKey(t *testing.T) {
	_, err := NewGenerativeScorer(GenerativeConfig{})
	require.ErrorIs(t, err, ErrConfigurationMissing)
}

func TestChainFallsBackOnUnreachable(t *testing.T) {
	ml := &stubScorer{name: ProviderML, err: unreachable(ProviderML, errors.New("connection refused"))}
	gemini := &stubScorer{name: ProviderGemini, result: ScoreResult{Score: 6, Feedback: "fine"}}

	chain := NewChain(ProviderBoth, zerolog.Nop(), ml, gemini)
	result, err := chain.Score(context.Background(), ScoreRequest{MaxScore: 10})
	require.NoError(t, err)
	require.Equal(t, ProviderGemini, result.Provider)
	require.Len(t, result.Attempts, 2)
	require.Equal(t, ProviderML, result.Attempts[0].Provider)
	require.NotEmpty(t, result.Attempts[0].Error)
	require.Equal(t, ProviderGemini, result.Attempts[1].Provider)
}

func TestChainStopsAtFirstSuccess(t *testing.T) {
	ml := &stubScorer{name: ProviderML, result: ScoreResult{Score: 9, LowConfidence: true}}
	gemini := &stubScorer{name: ProviderGemini}

	chain := NewChain(ProviderBoth, zerolog.Nop(), ml, gemini)
	result, err := chain.Score(context.Background(), ScoreRequest{MaxScore: 10})
	require.NoError(t, err)
	require.Equal(t, ProviderML, result.Provider)
	require.True(t, result.LowConfidence)
	require.Equal(t, 0, gemini.calls)
}

func TestChainDoesNotFallBackOnOtherErrors(t *testing.T) {
	ml := &stubScorer{name: ProviderML, err: context.Canceled}
	gemini := &stubScorer{name: ProviderGemini}

	chain := NewChain(ProviderBoth, zerolog.Nop(), ml, gemini)
	_, err := chain.Score(context.Background(), ScoreRequest{MaxScore: 10})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, gemini.calls)
}

func TestChainAllFail(t *testing.T) {
	ml := &stubScorer{name: ProviderML, err: unreachable(ProviderML, errors.New("down"))}
	gemini := &stubScorer{name: ProviderGemini, err: invalidResponse(ProviderGemini, errors.New("bad json"))}

	_, err := NewChain(ProviderBoth, zerolog.Nop(), ml, gemini).Score(context.Background(), ScoreRequest{MaxScore: 10})
	require.ErrorIs(t, err, ErrProviderInvalidResponse)

	var chainErr *ChainError
	require.ErrorAs(t, err, &chainErr)
	require.Len(t, chainErr.Attempts, 2)
}

func TestResolve(t *testing.T) {
	defaults := Defaults{GeminiAPIKey: "env-key", Logger: zerolog.Nop()}

	_, err := Resolve(nil, defaults)
	require.ErrorIs(t, err, ErrConfigurationMissing)

	_, err = Resolve(&Settings{Enabled: false, Provider: ProviderGemini}, defaults)
	require.ErrorIs(t, err, ErrConfigurationMissing)

	scorer, err := Resolve(&Settings{Enabled: true, Provider: ProviderML}, defaults)
	require.NoError(t, err)
	require.Equal(t, ProviderGemini, scorer.Name())

	scorer, err = Resolve(&Settings{Enabled: true, Provider: ProviderBoth, MLAPIURL: "http://ml:8000"}, defaults)
	require.NoError(t, err)
	chain, ok := scorer.(*Chain)
	require.True(t, ok)
	require.Equal(t, []Provider{ProviderML, ProviderGemini}, chain.Providers())

	scorer, err = Resolve(&Settings{Enabled: true, Provider: ProviderBoth, MLAPIURL: "http://ml:8000", Order: []Provider{ProviderGemini, ProviderML}}, defaults)
	require.NoError(t, err)
	require.Equal(t, []Provider{ProviderGemini, ProviderML}, scorer.(*Chain).Providers())

	_, err = Resolve(&Settings{Enabled: true, Provider: ProviderGemini}, Defaults{Logger: zerolog.Nop()})
	require.ErrorIs(t, err, ErrConfigurationMissing)
}

func TestParseOrder(t *testing.T) {
	require.Equal(t, []Provider{ProviderGemini, ProviderML}, ParseOrder("gemini, ML,both,unknown,ml"))
	require.Empty(t, ParseOrder(""))
}

func TestChainFallsBackOnInvalidResponse(t *testing.T) {
	ml := &stubScorer{name: ProviderML, err: invalidResponse(ProviderML, errors.New("score missing"))}
	gemini := &stubScorer{name: ProviderGemini, result: ScoreResult{Score: 5, Feedback: "fine"}}

	result, err := NewChain(ProviderBoth, zerolog.Nop(), ml, gemini).Score(context.Background(), ScoreRequest{MaxScore: 10})
	require.NoError(t, err)
	require.Equal(t, ProviderGemini, result.Provider)
	require.Equal(t, 1, gemini.calls)
}

func trainServer(t *testing.T, status int, body string) (*httptest.Server, *[]TrainingSample) {
	t.Helper()
	var received []TrainingSample
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/train", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)

		var payload struct {
			GradingTasks []TrainingSample `json:"gradingTasks"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		received = payload.GradingTasks

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)
	return server, &received
}

func TestServiceScorerTrain(t *testing.T) {
	server, received := trainServer(t, http.StatusOK, `{"success":true,"accuracy":0.8,"mae":0.5,"samples":2}`)
	scorer, err := NewServiceScorer(ServiceConfig{BaseURL: server.URL, Logger: zerolog.Nop()})
	require.NoError(t, err)

	aiScore := 6.0
	report, err := scorer.Train(context.Background(), []TrainingSample{
		{Question: "q1", Answer: "a1", AIScore: &aiScore, TeacherScore: 7},
		{Question: "q2", Answer: "a2", TeacherScore: 9, TeacherFeedback: "good"},
	})
	require.NoError(t, err)
	require.InDelta(t, 0.8, *report.Accuracy, 1e-9)
	require.Nil(t, report.MSE)
	require.Equal(t, 2, *report.Samples)
	require.Len(t, *received, 2)
	require.Equal(t, 7.0, (*received)[0].TeacherScore)
	require.Nil(t, (*received)[1].AIScore)
}

func TestServiceScorerTrainErrors(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		target error
	}{
		{"server error", http.StatusInternalServerError, `{"error":"boom"}`, ErrProviderUnreachable},
		{"bad request", http.StatusBadRequest, `{"success":false,"error":"too few samples"}`, ErrTrainingRejected},
		{"reported failure", http.StatusOK, `{"success":false,"error":"diverged"}`, ErrTrainingRejected},
		{"garbage", http.StatusOK, `not json`, ErrProviderInvalidResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server, _ := trainServer(t, tc.status, tc.body)
			scorer, err := NewServiceScorer(ServiceConfig{BaseURL: server.URL, Logger: zerolog.Nop()})
			require.NoError(t, err)

			_, err = scorer.Train(context.Background(), []TrainingSample{{Question: "q", TeacherScore: 1}})
			require.ErrorIs(t, err, tc.target)
		})
	}
}

func TestResolveTrainer(t *testing.T) {
	_, err := ResolveTrainer(nil, Defaults{Logger: zerolog.Nop()})
	require.ErrorIs(t, err, ErrConfigurationMissing)

	trainer, err := ResolveTrainer(&Settings{Provider: ProviderGemini, MLAPIURL: "http://ml:8000"}, Defaults{Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NotNil(t, trainer)

	trainer, err = ResolveTrainer(nil, Defaults{MLAPIURL: "http://ml:8000", Logger: zerolog.Nop()})
	require.NoError(t, err)
	require.NotNil(t, trainer)
}
