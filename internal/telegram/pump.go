package telegram

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"

	"vikabot/internal/conversation"
)

// Bot pumps updates from the Bot API into the conversation controller and
// implements its Gateway. Each chat gets a dedicated worker so events for
// one chat are handled one at a time in arrival order, while chats do not
// block each other.
type Bot struct {
	Client     *Client
	Controller *conversation.Controller
	AllowedIDs map[int64]bool

	ctx    context.Context
	offset int64
	queues sync.Map // chatID -> chan conversation.Event
	wg     sync.WaitGroup
}

type Config struct {
	Token      string
	AllowedIDs []int64
}

func NewBot(cfg Config) *Bot {
	allowed := make(map[int64]bool)
	for _, id := range cfg.AllowedIDs {
		allowed[id] = true
	}
	return &Bot{
		Client:     NewClient(cfg.Token),
		AllowedIDs: allowed,
	}
}

// Run polls until the context is cancelled. The controller must be set
// before calling.
func (b *Bot) Run(ctx context.Context) error {
	b.ctx = ctx
	log.Printf("telegram: starting poll loop")
	for {
		select {
		case <-ctx.Done():
			b.wg.Wait()
			return ctx.Err()
		default:
		}
		updates, err := b.Client.GetUpdates(ctx, b.offset, 30)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Printf("telegram: get updates: %v", err)
			time.Sleep(time.Second)
			continue
		}
		for _, u := range updates {
			if u.UpdateID >= b.offset {
				b.offset = u.UpdateID + 1
			}
			b.route(ctx, u)
		}
	}
}

// route converts one update into a controller event and queues it on the
// chat's worker.
func (b *Bot) route(ctx context.Context, u Update) {
	if u.CallbackQuery != nil {
		cb := u.CallbackQuery
		if cb.Message == nil {
			return
		}
		if err := b.Client.AnswerCallback(ctx, cb.ID); err != nil {
			log.Printf("telegram: answer callback: %v", err)
		}
		chatID := cb.Message.Chat.ID
		if !b.allowed(chatID) {
			return
		}
		b.dispatch(chatID, conversation.Callback{Data: cb.Data, MessageID: cb.Message.MessageID})
		return
	}
	if u.Message == nil || u.Message.Text == "" {
		return
	}
	chatID := u.Message.Chat.ID
	if !b.allowed(chatID) {
		log.Printf("telegram: ignoring message from unauthorized chat %d", chatID)
		return
	}
	text := strings.TrimSpace(u.Message.Text)
	if name, ok := parseCommand(text); ok {
		b.dispatch(chatID, conversation.Command{Name: name})
		return
	}
	b.dispatch(chatID, conversation.Text{Body: text, MessageID: u.Message.MessageID})
}

func (b *Bot) allowed(chatID int64) bool {
	return len(b.AllowedIDs) == 0 || b.AllowedIDs[chatID]
}

// dispatch appends the event to the chat's queue, creating the worker on
// first contact.
func (b *Bot) dispatch(chatID int64, ev conversation.Event) {
	q, loaded := b.queues.LoadOrStore(chatID, make(chan conversation.Event, 16))
	queue := q.(chan conversation.Event)
	if !loaded {
		b.wg.Add(1)
		go b.worker(chatID, queue)
	}
	select {
	case queue <- ev:
	default:
		log.Printf("telegram: dropping event for chat %d, queue full", chatID)
	}
}

func (b *Bot) worker(chatID int64, queue chan conversation.Event) {
	defer b.wg.Done()
	for {
		select {
		case <-b.ctx.Done():
			return
		case ev := <-queue:
			b.Controller.Handle(b.ctx, chatID, ev)
		}
	}
}

// parseCommand recognizes "/name" and "/name@botname" prefixes and returns
// the bare name.
func parseCommand(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	name := strings.Fields(text)[0][1:]
	if at := strings.Index(name, "@"); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return "", false
	}
	return name, true
}

// Gateway implementation.

func (b *Bot) Send(chatID int64, text string, buttons [][]conversation.Button) (int64, error) {
	return b.Client.SendMessage(b.ctx, chatID, text, markupFor(buttons))
}

func (b *Bot) Edit(chatID, messageID int64, text string, buttons [][]conversation.Button) error {
	return b.Client.EditMessageText(b.ctx, chatID, messageID, text, markupFor(buttons))
}

func (b *Bot) Delete(chatID, messageID int64) error {
	return b.Client.DeleteMessage(b.ctx, chatID, messageID)
}

func markupFor(buttons [][]conversation.Button) *InlineKeyboardMarkup {
	if len(buttons) == 0 {
		return nil
	}
	markup := &InlineKeyboardMarkup{}
	for _, row := range buttons {
		var out []InlineKeyboardButton
		for _, btn := range row {
			out = append(out, InlineKeyboardButton{Text: btn.Label, CallbackData: btn.Data})
		}
		markup.InlineKeyboard = append(markup.InlineKeyboard, out)
	}
	return markup
}
