// Package mocks provides testify mocks for the generation clients.
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"fable-server/internal/generation"
	"fable-server/internal/models"
)

// MockNarrativeClient is a mock type for the NarrativeClient type
type MockNarrativeClient struct {
	mock.Mock
}

func (_m *MockNarrativeClient) GenerateNarrative(ctx context.Context, systemPrompt string, userPayload string) (string, error) {
	ret := _m.Called(ctx, systemPrompt, userPayload)
	return ret.String(0), ret.Error(1)
}

// NewMockNarrativeClient creates a new instance of MockNarrativeClient.
func NewMockNarrativeClient(t interface {
	mock.TestingT
	Helper()
}) *MockNarrativeClient {
	m := &MockNarrativeClient{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ generation.NarrativeClient = (*MockNarrativeClient)(nil)

// MockImageClient is a mock type for the ImageClient type
type MockImageClient struct {
	mock.Mock
}

func (_m *MockImageClient) GenerateImage(ctx context.Context, prompt string) ([]byte, string, error) {
	ret := _m.Called(ctx, prompt)

	var r0 []byte
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]byte)
	}
	return r0, ret.String(1), ret.Error(2)
}

// NewMockImageClient creates a new instance of MockImageClient.
func NewMockImageClient(t interface {
	mock.TestingT
	Helper()
}) *MockImageClient {
	m := &MockImageClient{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ generation.ImageClient = (*MockImageClient)(nil)

// MockSpeechClient is a mock type for the SpeechClient type
type MockSpeechClient struct {
	mock.Mock
}

func (_m *MockSpeechClient) GenerateSpeech(ctx context.Context, text string) ([]byte, string, error) {
	ret := _m.Called(ctx, text)

	var r0 []byte
	if ret.Get(0) != nil {
		r0 = ret.Get(0).([]byte)
	}
	return r0, ret.String(1), ret.Error(2)
}

// NewMockSpeechClient creates a new instance of MockSpeechClient.
func NewMockSpeechClient(t interface {
	mock.TestingT
	Helper()
}) *MockSpeechClient {
	m := &MockSpeechClient{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ generation.SpeechClient = (*MockSpeechClient)(nil)

// MockNotifier is a mock type for the Notifier type
type MockNotifier struct {
	mock.Mock
}

func (_m *MockNotifier) SceneUpdated(ctx context.Context, scene *models.Scene) {
	_m.Called(ctx, scene)
}

// NewMockNotifier creates a new instance of MockNotifier.
func NewMockNotifier(t interface {
	mock.TestingT
	Helper()
}) *MockNotifier {
	m := &MockNotifier{}
	m.Mock.Test(t)
	t.Helper()
	return m
}

var _ generation.Notifier = (*MockNotifier)(nil)
