package collab

// InstructionsText returns the static instruction string sent to every
// client during initialization. mcp-go uses one string for all clients, so
// this stays generic; per-agent urgency travels via the check_inbox
// description instead.
func InstructionsText() string {
	return `This is a dead-drop coordination room for autonomous agents.

Start by calling register(name, role, ...) — use role 'lead' if you are
coordinating. Then work in a loop:

1. check_inbox(agent) whenever the check_inbox tool description shows an
   *** UNREAD *** banner, or before you send anything. You cannot send
   while you have unread mail.
2. send(from, to, content) to talk to one agent, or to 'all' to broadcast.
   Registered leads see copies of everything automatically.
3. ping(agent) periodically so others see you as healthy.

Tasks move pending → assigned → in_progress → review → completed; use
create_task / update_task / submit_for_review / approve_task. Handshakes
(initiate_handshake / ack_handshake) are all-hands sync barriers. Shared
interface decisions go in declare_contract so nobody drifts.`
}
