// Package command implements the durable hardware command queue.
//
// Commands are rows in the hardware_commands table. A command moves
// pending -> claimed -> completed|failed. Claiming is a single
// UPDATE ... RETURNING statement, so two pollers can never claim the same
// row. A claim that is not completed within the claim timeout is returned
// to pending by the Sweeper.
package command
