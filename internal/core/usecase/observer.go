package usecase

import (
	"github.com/kirillkom/ackdesk/internal/core/domain"
	"github.com/kirillkom/ackdesk/internal/core/ports"
)

type noopObserver struct{}

func (noopObserver) ObserveMail(domain.MailTemplate, bool) {}
func (noopObserver) ObserveCompletion(bool) {}
func (noopObserver) ObserveCompletionRejected(string) {}
func (noopObserver) ObserveVersionAdded() {}
func (noopObserver) ObserveVersionConflict() {}
func (noopObserver) ObserveDocumentCreated() {}
func (noopObserver) ObserveLicense(string, error) {}

func observerOrNoop(observer ports.MetricsObserver) ports.MetricsObserver {
	if observer == nil {
		return noopObserver{}
	}
	return observer
}
