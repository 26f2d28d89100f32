// Package kickstart schedules proactive conversation starts across group
// channels.
//
// A Scheduler owns one timer loop per registered group. Each wake-up draws
// against the group's ProbabilityFactor, checks the active-conversation cap
// and the peer roster, then selects a topic, composes an opening message from
// a small template set and creates the conversation through the conversation
// manager before sending the text over the relay. Delays between wake-ups are
// drawn uniformly from [MinInterval, MaxInterval], giving each group a hard
// rate floor without synchronized bursts across groups.
//
// Force triggers the same path on demand for operator- or test-driven starts,
// bypassing only the probability and cap gates. Every cycle outcome, skip,
// failure or success, is logged and handed to the optional OnAttempt observer.
package kickstart
