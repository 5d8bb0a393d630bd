package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/charmbracelet/log"
	"github.com/leonardotrapani/speechrelay/internal/language"
	"github.com/leonardotrapani/speechrelay/internal/pcm"
	"github.com/leonardotrapani/speechrelay/internal/provider"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Google accepts at most three alternative language codes per request.
const googleMaxAlternatives = 3

type GoogleOptions struct {
	Model           string
	CredentialsJSON []byte
	CredentialsFile string
	// ClientOptions are appended after the credential options; tests use
	// them to point the client at a local server.
	ClientOptions []option.ClientOption
}

// GoogleClient runs Cloud Speech-to-Text streaming recognition.
type GoogleClient struct {
	client *speech.Client
	model  string
	logger *log.Logger
}

func NewGoogleClient(ctx context.Context, opts GoogleOptions, logger *log.Logger) (*GoogleClient, error) {
	if logger == nil {
		logger = log.Default()
	}

	var clientOpts []option.ClientOption
	switch {
	case len(opts.CredentialsJSON) > 0:
		clientOpts = append(clientOpts, option.WithCredentialsJSON(opts.CredentialsJSON))
	case opts.CredentialsFile != "":
		clientOpts = append(clientOpts, option.WithCredentialsFile(opts.CredentialsFile))
	}
	clientOpts = append(clientOpts, opts.ClientOptions...)

	client, err := speech.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}

	return &GoogleClient{
		client: client,
		model:  opts.Model,
		logger: logger.With("component", "google-speech"),
	}, nil
}

func (c *GoogleClient) Name() string { return provider.ProviderGoogle }

func (c *GoogleClient) Close() error {
	return c.client.Close()
}

// Open starts a StreamingRecognize call and sends its config request.
func (c *GoogleClient) Open(ctx context.Context, cfg StreamConfig) (Stream, error) {
	// the call outlives ctx, which only bounds the open
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	call, err := c.client.StreamingRecognize(streamCtx)
	if err != nil {
		cancel()
		return nil, wrapGoogleError(err)
	}

	if err := call.Send(c.configRequest(cfg)); err != nil {
		cancel()
		if errors.Is(err, io.EOF) {
			// the real status comes back from Recv
			_, err = call.Recv()
		}
		return nil, wrapGoogleError(err)
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}

	s := &googleStream{
		call:    call,
		queue:   pcm.NewQueue(queueSize),
		results: make(chan Result, 100),
		ctx:     streamCtx,
		cancel:  cancel,
		logger:  c.logger,
	}

	s.wg.Add(2)
	go s.sendLoop()
	go s.recvLoop()

	c.logger.Debug("stream opened", "model", c.model, "language", cfg.Language)
	return s, nil
}

func (c *GoogleClient) configRequest(cfg StreamConfig) *speechpb.StreamingRecognizeRequest {
	rate := cfg.SampleRate
	if rate == 0 {
		rate = pcm.TargetRate
	}

	rc := &speechpb.RecognitionConfig{
		Encoding:                   speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz:            int32(rate),
		AudioChannelCount:          1,
		EnableAutomaticPunctuation: true,
		Model:                      c.model,
	}

	if cfg.Language != "" {
		rc.LanguageCode = language.ToProviderFormat(cfg.Language, provider.ProviderGoogle)
	} else if len(cfg.AutoLanguages) > 0 {
		rc.LanguageCode = cfg.AutoLanguages[0]
		alts := cfg.AutoLanguages[1:]
		if len(alts) > googleMaxAlternatives {
			alts = alts[:googleMaxAlternatives]
		}
		rc.AlternativeLanguageCodes = alts
	} else {
		rc.LanguageCode = "en-US"
	}

	return &speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:         rc,
				InterimResults: cfg.InterimResults,
			},
		},
	}
}

// wrapGoogleError maps gRPC statuses onto the package error types.
func wrapGoogleError(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("google speech: %w", err)
	}
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return NewFatalTranscriptionError(fmt.Errorf("google speech: %w: %w", ErrUnauthorized, err))
	case codes.OutOfRange, codes.DeadlineExceeded:
		// "Exceeded maximum allowed stream duration" arrives as OutOfRange
		return NewRecoverableTimeoutError(fmt.Errorf("google speech: %w", err))
	default:
		return fmt.Errorf("google speech: %w", err)
	}
}

type googleStream struct {
	call    speechpb.Speech_StreamingRecognizeClient
	queue   *pcm.Queue
	results chan Result

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once

	logger *log.Logger
}

func (s *googleStream) Send(frame []byte) error {
	dropped, err := s.queue.Push(frame)
	if err != nil {
		return ErrStreamClosed
	}
	if dropped {
		return ErrQueueFull
	}
	return nil
}

func (s *googleStream) Results() <-chan Result { return s.results }

func (s *googleStream) CloseSend() error {
	s.queue.Close()
	return nil
}

func (s *googleStream) Close() error {
	s.once.Do(func() {
		s.queue.Close()
		s.cancel()
	})
	s.wg.Wait()
	return nil
}

// sendLoop forwards queued audio and half-closes the call once the queue is
// closed and drained.
func (s *googleStream) sendLoop() {
	defer s.wg.Done()

	for {
		frame, ok := s.queue.Pop(s.ctx)
		if !ok {
			break
		}
		req := &speechpb.StreamingRecognizeRequest{
			StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
				AudioContent: frame,
			},
		}
		if err := s.call.Send(req); err != nil {
			// Send reports io.EOF when the server ended the call; Recv has the cause
			s.logger.Debug("send failed", "err", err)
			return
		}
	}

	if s.ctx.Err() != nil {
		return
	}
	if err := s.call.CloseSend(); err != nil {
		s.logger.Debug("close send failed", "err", err)
	}
}

func (s *googleStream) recvLoop() {
	defer s.wg.Done()
	defer close(s.results)

	for {
		resp, err := s.call.Recv()
		if err == io.EOF {
			return
		}
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.emit(Result{Err: wrapGoogleError(err)})
			return
		}

		if resp.Error != nil && codes.Code(resp.Error.Code) != codes.OK {
			if !s.emit(Result{Err: wrapGoogleError(status.ErrorProto(resp.Error))}) {
				return
			}
			continue
		}

		for _, result := range resp.Results {
			if len(result.Alternatives) == 0 || result.Alternatives[0].Transcript == "" {
				continue
			}
			r := Result{
				Text:     result.Alternatives[0].Transcript,
				IsFinal:  result.IsFinal,
				Language: result.LanguageCode,
			}
			if !s.emit(r) {
				return
			}
		}
	}
}

func (s *googleStream) emit(r Result) bool {
	select {
	case s.results <- r:
		return true
	case <-s.ctx.Done():
		return false
	}
}
