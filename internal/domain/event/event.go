// Package event defines the closed set of notifications the client emits.
package event

import (
	"time"

	"github.com/oklog/ulid/v2"

	"research-client/internal/domain/model"
)

type Topic string

const (
	TopicUserMessageAppended Topic = "user_message_appended"
	TopicResponseReady       Topic = "response_ready"
	TopicThinkingStarted     Topic = "thinking_started"
	TopicError               Topic = "error"
	TopicJobListChanged      Topic = "job_list_changed"
	TopicResearchCompleted   Topic = "research_completed"
	TopicResearchFailed      Topic = "research_failed"
)

// Event is implemented only by the types in this package.
type Event interface {
	Topic() Topic
	sealed()
}

type UserMessageAppended struct {
	ContextKey string
	Message    model.ChatMessage
}

type ThinkingStarted struct {
	ContextKey string
}

type ResponseReady struct {
	ContextKey string
	Message    model.ChatMessage
}

// ChatError ends a chat turn that produced no answer.
type ChatError struct {
	ContextKey string
	Err        error
}

// JobListChanged carries a snapshot of every tracked job.
type JobListChanged struct {
	Jobs []model.Job
}

type ResearchCompleted struct {
	Job model.Job
}

type ResearchFailed struct {
	Job    model.Job
	Reason string
}

func (UserMessageAppended) Topic() Topic { return TopicUserMessageAppended }
func (ThinkingStarted) Topic() Topic     { return TopicThinkingStarted }
func (ResponseReady) Topic() Topic       { return TopicResponseReady }
func (ChatError) Topic() Topic           { return TopicError }
func (JobListChanged) Topic() Topic      { return TopicJobListChanged }
func (ResearchCompleted) Topic() Topic   { return TopicResearchCompleted }
func (ResearchFailed) Topic() Topic      { return TopicResearchFailed }

func (UserMessageAppended) sealed() {}
func (ThinkingStarted) sealed()     {}
func (ResponseReady) sealed()       {}
func (ChatError) sealed()           {}
func (JobListChanged) sealed()      {}
func (ResearchCompleted) sealed()   {}
func (ResearchFailed) sealed()      {}

// Envelope wraps a published event with its delivery metadata.
type Envelope struct {
	ID    ulid.ULID
	At    time.Time
	Event Event
}
