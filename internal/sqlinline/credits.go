package sqlinline

// QCreditReserve checks, decrements and logs in one statement. balance_after is
// null when the balance was too low; available is reported either way.
const QCreditReserve = `--sql cb32e679-3d42-48a7-840e-6abd6ecf0af3
with debited as (
    update credit_balances
    set balance = balance - $2,
        updated_at = now()
    where owner_id = $1
      and balance >= $2
    returning balance
),
logged as (
    insert into credit_transactions (id, owner_id, kind, amount, balance_after, job_id)
    select $3, $1, 'deduction', $2, balance, $4
    from debited
    returning balance_after
)
select (select balance_after from logged) as balance_after,
       coalesce((select balance from credit_balances where owner_id = $1), 0) as available;
`

// QCreditLockBalance serializes refunds per owner.
const QCreditLockBalance = `--sql 97025cfa-204d-4e48-86ee-738e6c1ffe7f
select balance
from credit_balances
where owner_id = $1
for update;
`

// QCreditInsertRefund inserts the refund row only when the job was charged and
// not refunded yet; no row comes back otherwise.
const QCreditInsertRefund = `--sql d57d84c7-94f5-489f-8e4c-cf34ad050586
insert into credit_transactions (id, owner_id, kind, amount, balance_after, job_id)
select $3, $1, 'refund', $4, 0, $2
where exists (
    select 1 from credit_transactions
    where job_id = $2 and owner_id = $1 and kind = 'deduction'
)
on conflict (job_id, kind) where job_id is not null do nothing
returning id;
`

const QCreditApplyRefund = `--sql b4658b46-ac45-4612-ba71-e6009f2cc181
update credit_balances
set balance = balance + $2,
    updated_at = now()
where owner_id = $1
returning balance;
`

const QCreditSetBalanceAfter = `--sql c9ccb781-81c3-4fc9-a767-fdf2563e7449
update credit_transactions
set balance_after = $2
where id = $1;
`

const QCreditGrant = `--sql 78026694-9c8f-42ac-8e61-bd7dcbd28800
with upserted as (
    insert into credit_balances (owner_id, balance, updated_at)
    values ($1, $2, now())
    on conflict (owner_id) do update
    set balance = credit_balances.balance + excluded.balance,
        updated_at = now()
    returning balance
)
insert into credit_transactions (id, owner_id, kind, amount, balance_after, metadata)
select $3, $1, $4, $2, balance, $5
from upserted
returning balance_after;
`

const QCreditBalance = `--sql 36abf23c-5f04-4b30-9902-97ba27713322
select coalesce((select balance from credit_balances where owner_id = $1), 0);
`

const QCreditTransactions = `--sql 2f1c8d6e-7a4b-4c59-9e3d-5b8a1f0c6d27
select id, owner_id, kind, amount, balance_after, coalesce(job_id, ''), metadata, created_at
from credit_transactions
where owner_id = $1
order by created_at desc, id desc
limit $2;
`
