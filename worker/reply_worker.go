package worker

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log"
	"strings"
	"time"

	"vitalpath/engine"
	"vitalpath/models"
	"vitalpath/utils"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"gorm.io/gorm"
)

// ReplyWorker polls each sender's IMAP mailbox for unseen messages and turns
// replies from enrolled recipients into exit events for sequences with
// exit_on_reply set.
type ReplyWorker struct {
	DB       *gorm.DB
	Enroller *engine.Enroller
	Logger   *log.Logger
}

func NewReplyWorker(db *gorm.DB, enroller *engine.Enroller, logger *log.Logger) *ReplyWorker {
	return &ReplyWorker{
		DB:       db,
		Enroller: enroller,
		Logger:   logger,
	}
}

func (rw *ReplyWorker) Start(ctx context.Context) {
	rw.Logger.Println("Starting reply worker...")
	ticker := time.NewTicker(5 * time.Minute)

	for {
		select {
		case <-ticker.C:
			rw.pollAllSenders(time.Now().UTC())
		case <-ctx.Done():
			rw.Logger.Println("Stopping reply worker...")
			ticker.Stop()
			return
		}
	}
}

func (rw *ReplyWorker) pollAllSenders(now time.Time) {
	var senders []models.Sender
	if err := rw.DB.Where("is_active = ? AND imap_host IS NOT NULL AND imap_host != ''", true).
		Find(&senders).Error; err != nil {
		rw.Logger.Printf("Failed to fetch senders: %v", err)
		return
	}

	for i := range senders {
		if err := rw.pollSender(&senders[i], now); err != nil {
			rw.Logger.Printf("Failed to poll replies for sender %d: %v", senders[i].ID, err)
			continue
		}
	}
}

func (rw *ReplyWorker) pollSender(sender *models.Sender, now time.Time) error {
	password, err := utils.DecryptCredential(sender.IMAPPassword)
	if err != nil {
		return fmt.Errorf("failed to decrypt IMAP password: %v", err)
	}

	var imapClient *client.Client
	imapAddr := fmt.Sprintf("%s:%d", sender.IMAPHost, sender.IMAPPort)

	switch strings.ToUpper(sender.IMAPEncryption) {
	case "SSL", "TLS":
		imapClient, err = client.DialTLS(imapAddr, &tls.Config{
			InsecureSkipVerify: false,
			ServerName:         sender.IMAPHost,
		})
	case "STARTTLS":
		imapClient, err = client.Dial(imapAddr)
		if err == nil {
			err = imapClient.StartTLS(&tls.Config{
				InsecureSkipVerify: false,
				ServerName:         sender.IMAPHost,
			})
		}
	default:
		imapClient, err = client.Dial(imapAddr)
	}

	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %v", err)
	}
	defer imapClient.Logout()

	if err := imapClient.Login(sender.IMAPUsername, password); err != nil {
		return fmt.Errorf("failed to login to IMAP server: %v", err)
	}

	mailbox := "INBOX"
	if sender.IMAPMailbox != "" {
		mailbox = sender.IMAPMailbox
	}

	if _, err := imapClient.Select(mailbox, false); err != nil {
		return fmt.Errorf("failed to select mailbox: %v", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{"\\Seen"}
	ids, err := imapClient.Search(criteria)
	if err != nil {
		return fmt.Errorf("failed to search messages: %v", err)
	}

	if len(ids) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)

	go func() {
		done <- imapClient.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchItem("BODY.PEEK[]")}, messages)
	}()

	for msg := range messages {
		if err := rw.processReply(msg, now); err != nil {
			rw.Logger.Printf("Failed to process message %d: %v", msg.SeqNum, err)
			continue
		}
	}

	if err := <-done; err != nil {
		return fmt.Errorf("error during fetch: %v", err)
	}

	return nil
}

// processReply exits a recipient from reply-sensitive enrollments when the
// message comes from an address we are actively sequencing.
func (rw *ReplyWorker) processReply(msg *imap.Message, now time.Time) error {
	if msg.Envelope == nil || len(msg.Envelope.From) == 0 {
		return nil
	}
	from := msg.Envelope.From[0]
	address := strings.ToLower(fmt.Sprintf("%s@%s", from.MailboxName, from.HostName))

	var recipient models.Recipient
	if err := rw.DB.Where("email = ?", address).First(&recipient).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil // not one of ours
		}
		return fmt.Errorf("recipient lookup: %v", err)
	}

	var enrollments []models.Enrollment
	if err := rw.DB.Joins("JOIN sequences ON sequences.id = enrollments.sequence_id").
		Where("enrollments.recipient_id = ? AND enrollments.status = ? AND sequences.exit_on_reply = ?",
			recipient.ID, models.EnrollmentActive, true).
		Find(&enrollments).Error; err != nil {
		return fmt.Errorf("enrollment lookup: %v", err)
	}

	if len(enrollments) == 0 {
		return nil
	}

	rw.Logger.Printf("Reply from recipient %d (%s), exiting %d enrollment(s)", recipient.ID, address, len(enrollments))

	event := models.LifecycleEvent{
		RecipientID: recipient.ID,
		EventType:   "reply_received",
		Payload:     fmt.Sprintf(`{"subject":%q,"snippet":%q}`, msg.Envelope.Subject, replySnippet(msg)),
	}
	if err := rw.DB.Create(&event).Error; err != nil {
		rw.Logger.Printf("Failed to record reply event for recipient %d: %v", recipient.ID, err)
	}

	for i := range enrollments {
		if err := rw.Enroller.Cancel(&enrollments[i], "reply_received", now); err != nil {
			return err
		}
	}
	return nil
}

// replySnippet extracts the start of the first text/plain part for the audit
// payload. Parse failures just yield an empty snippet.
func replySnippet(msg *imap.Message) string {
	section := imap.BodySectionName{}
	literal := msg.GetBody(&section)
	if literal == nil {
		return ""
	}

	mr, err := mail.CreateReader(literal)
	if err != nil {
		return ""
	}
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			return ""
		}
		if h, ok := p.Header.(*mail.InlineHeader); ok {
			contentType, _, _ := h.ContentType()
			if !strings.Contains(contentType, "text/plain") {
				continue
			}
			b, err := io.ReadAll(io.LimitReader(p.Body, 280))
			if err != nil {
				return ""
			}
			return strings.TrimSpace(string(b))
		}
	}
	return ""
}
